package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// RolesSet models the `--roles-file` scope filter (spec.md §3, §6). A nil
// RolesSet (no --roles-file given) disables filtering entirely: every task
// is in scope regardless of its `roles` list. A non-nil, empty RolesSet
// (an empty file) admits only tasks that declare no roles of their own.
type RolesSet struct {
	roles map[string]bool
}

// Unfiltered reports whether role filtering is disabled outright.
func (rs *RolesSet) Unfiltered() bool {
	return rs == nil
}

// Has reports whether name is a member of the set.
func (rs *RolesSet) Has(name string) bool {
	if rs == nil {
		return true
	}
	return rs.roles[name]
}

// LoadRoles reads a plain-text roles file: one role name per line, blank
// lines and lines starting with `#` ignored (spec.md §6).
func LoadRoles(path string) (*RolesSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roles file: %w", err)
	}
	defer f.Close()

	rs := &RolesSet{roles: make(map[string]bool)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rs.roles[line] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return rs, nil
}
