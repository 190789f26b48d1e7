// Package cmd implements the taskforce CLI surface described in spec.md §6.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	rolesFile    string
	httpAddrs    []string
	certfile     string
	allowControl bool
	sanity       bool
	expires      int
	logStderr    bool
	verbose      bool
)

// cliLog is the human-readable, logrus-backed logger for CLI/operator-facing
// startup and sanity-check output (SPEC_FULL.md §2): the daemon core itself
// logs through log/slog (internal/log), kept as a distinct tier alongside
// this logrus-shaped one.
var cliLog = logrus.New()

func init() {
	cliLog.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp:   true,
	})
	var out io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = colorable.NewColorableStderr()
	}
	cliLog.SetOutput(out)
}

// rootCmd is the single `taskforce` entry point; spec.md §6 has no
// subcommands, only flags, plus a `--sanity` mode that validates and exits.
var rootCmd = &cobra.Command{
	Use:   "taskforce",
	Short: "Taskforce process supervisor and orchestrator",
	Long: `Taskforce reads a declarative configuration describing a legion of
tasks, keeps the specified number of processes per task alive, restarts
them when their executables or watched files change, runs one-shot and
event-driven tasks with dependency ordering, and exposes a control/status
plane over HTTP(S) on TCP or Unix-domain sockets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "/etc/taskforce/config.yml",
		"legion configuration file")
	rootCmd.PersistentFlags().StringVar(&rolesFile, "roles-file", "",
		"roles file; absent disables role filtering")
	rootCmd.PersistentFlags().StringArrayVar(&httpAddrs, "http", nil,
		"additional HTTP(S) listener address ([host][:port] or a Unix-domain socket path); repeatable")
	rootCmd.PersistentFlags().StringVar(&certfile, "certfile", "",
		"TLS certificate+key PEM file applied to every --http listener lacking its own")
	rootCmd.PersistentFlags().BoolVar(&allowControl, "allow-control", false,
		"permit /manage/* control operations on --http listeners")
	rootCmd.PersistentFlags().BoolVar(&sanity, "sanity", false,
		"load config and roles, build the scoped task list, and exit without starting the event loop")
	rootCmd.PersistentFlags().IntVar(&expires, "expires", 0,
		"seconds after which the daemon schedules its own graceful exit; 0 disables")
	rootCmd.PersistentFlags().BoolVar(&logStderr, "log-stderr", false,
		"write daemon logs to stderr instead of the configured log file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug-level CLI output")

	cobra.OnInitialize(func() {
		if verbose {
			cliLog.SetLevel(logrus.DebugLevel)
		}
	})
}

func exitWithError(msg string, err error) {
	if err != nil {
		cliLog.Errorf("%s: %v", msg, err)
	} else {
		cliLog.Error(msg)
	}
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}
