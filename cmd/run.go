package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akfullfo/taskforce/internal/control"
	"github.com/akfullfo/taskforce/internal/legion"
	tflog "github.com/akfullfo/taskforce/internal/log"
)

// run is the daemon entry point (spec.md §4.7, §6). --sanity short-circuits
// into validateOnly instead.
func run() error {
	if sanity {
		return validateOnly()
	}

	logFile := "/var/log/taskforce/taskforce.log"
	if logStderr {
		logFile = ""
	}
	if err := tflog.Init(tflog.Config{
		Level:  verboseLevel(),
		Format: "json",
		Stderr: logStderr,
		File:   logFile,
	}); err != nil {
		exitWithError("failed to initialize logging", err)
	}
	defer tflog.Flush()

	opts := legion.Options{
		ConfigFile: configFile,
		RolesFile:  rolesFile,
	}
	if expires > 0 {
		opts.Expires = time.Duration(expires) * time.Second
	}

	l, err := legion.New(opts)
	if err != nil {
		exitWithError("failed to start legion", err)
	}

	wireHTTPServices(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cliLog.Infof("taskforce starting, config=%s roles=%s", configFile, rolesFile)
	return l.Run(ctx)
}

// wireHTTPServices registers one control.Service per configured and
// CLI-supplied HTTP(S) listener (spec.md §4.9). Config-file listeners carry
// their own `control` bit; --http/--allow-control flags apply uniformly to
// CLI-supplied listeners, the documented external-CLI shape (spec.md §6).
func wireHTTPServices(l *legion.Legion) {
	doc := l.Document()
	for _, hc := range doc.Settings.HTTP {
		svc := control.NewService(hc, l)
		l.AddHTTPStarter(svc.Start)
		l.AddHTTPStopper(svc.Stop)
	}
	for _, addr := range httpAddrs {
		hc := control.Config(addr, certfile, allowControl)
		svc := control.NewService(hc, l)
		l.AddHTTPStarter(svc.Start)
		l.AddHTTPStopper(svc.Stop)
	}
}

func verboseLevel() string {
	if verbose {
		return "debug"
	}
	return "info"
}
