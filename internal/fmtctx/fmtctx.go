// Package fmtctx renders the `{name}` placeholders used in task argv and
// environment entries against a task's formatting context (spec.md §4.5,
// §6).
package fmtctx

import (
	"fmt"
	"regexp"
)

// maxFuel bounds the number of substitution passes over a single string so a
// context value that references itself (directly or via a cycle) cannot spin
// the exec path forever (spec.md §4.5: "iteratively, up to a small fixed
// fuel, stopping when a pass makes no change").
const maxFuel = 8

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Context is the merged defines/defaults/role-variant/runtime map used to
// render argv and environment entries. A nil value for a key is the literal
// null described in spec.md §4.5/§6: preserved rather than stringified, and
// dropped from the rendered environment.
type Context map[string]any

// Merge layers override on top of base, later maps winning, without
// mutating either argument.
func Merge(layers ...Context) Context {
	out := make(Context)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Expand substitutes every `{name}` placeholder in s with its value from
// ctx, repeating until a pass makes no change or maxFuel passes have run. A
// placeholder naming a key whose value is nil is left untouched (the null
// preservation rule); a placeholder naming an unknown key is also left
// untouched so partial contexts don't corrupt unrelated braces.
func Expand(s string, ctx Context) string {
	for i := 0; i < maxFuel; i++ {
		next := placeholder.ReplaceAllStringFunc(s, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := ctx[name]
			if !ok || v == nil {
				return m
			}
			return fmt.Sprintf("%v", v)
		})
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// ExpandArgv renders every entry of argv against ctx.
func ExpandArgv(argv []string, ctx Context) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = Expand(a, ctx)
	}
	return out
}

// Environ renders ctx into a `KEY=value` slice suitable for exec, in the
// shape described by spec.md §6: non-nil entries only, each value passed
// through the same Expand pass as argv (so a context entry can reference
// another context entry).
func Environ(ctx Context) []string {
	out := make([]string, 0, len(ctx))
	for k, v := range ctx {
		if v == nil {
			continue
		}
		out = append(out, k+"="+Expand(fmt.Sprintf("%v", v), ctx))
	}
	return out
}
