package cmd

import (
	"github.com/akfullfo/taskforce/internal/legion"
)

// validateOnly implements `--sanity` (spec.md §6): load config and roles,
// build the scoped task list (topological sort included), and exit
// 0/non-zero without starting the event loop.
func validateOnly() error {
	l, err := legion.New(legion.Options{ConfigFile: configFile, RolesFile: rolesFile})
	if err != nil {
		exitWithError("configuration is invalid", err)
		return err
	}

	tasks := l.Tasks()
	cliLog.Infof("VALID: %d task(s) in scope", len(tasks))
	for _, t := range tasks {
		cliLog.Infof("  %-24s control=%-8s count=%d requires=%v",
			t.Name, t.Config().Control, t.Config().Count, t.Requires())
	}
	return nil
}
