// cmd/sweeper/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/windowsadmins/sweeper/pkg/config"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/version"
)

func main() {
	enableANSIConsole()

	configPath := pflag.String("config", config.ConfigPath, "Path to the configuration file.")
	catalogPath := pflag.String("catalog", "", "Catalog file to use instead of the configured one.")
	showStatus := pflag.Bool("status", false, "Print the installed state of every catalog item and exit.")
	remove := pflag.StringSlice("remove", nil, "Item ids to remove (comma separated).")
	force := pflag.Bool("force", false, "Remove the requested items even when they are not detected.")
	unqueue := pflag.StringSlice("unqueue", nil, "Item ids to drop from the bulk removal script.")
	parallel := pflag.Bool("parallel", false, "Run removal routines concurrently.")
	persist := pflag.Bool("persist", false, "Keep removal scripts registered as scheduled tasks after the run.")
	noPersist := pflag.Bool("no-persist", false, "Delete removal scripts and their tasks after the run.")
	cleanup := pflag.Bool("cleanup", false, "Delete every removal script and scheduled task, then exit.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")

	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv, -vvv)")
	pflag.Parse()

	if *versionFlag {
		version.Fprint(os.Stdout, verbosity > 0)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if level := levelFor(verbosity); level != "" {
		cfg.LogLevel = level
	}
	cfg.Verbose = cfg.Verbose || verbosity > 0
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		logging.Error("Failed to start", "error", err)
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	code := 0
	switch {
	case *cleanup:
		if err := a.store.CleanupAll(ctx); err != nil {
			logging.Error("Cleanup failed", "error", err)
			code = 1
		}
	case len(*unqueue) > 0:
		if err := a.unqueue(ctx, *unqueue); err != nil {
			logging.Error("Failed to update bulk removal script", "error", err)
			code = 1
		}
	case len(*remove) > 0:
		keep := cfg.PersistRemovalScripts
		if *persist {
			keep = true
		}
		if *noPersist {
			keep = false
		}
		res := a.remove(ctx, *remove, removeOptions{
			force:    *force,
			parallel: *parallel || cfg.ParallelRemoval,
			persist:  keep,
		})
		code = exitCode(res)
	case *showStatus:
		a.status(ctx, os.Stdout)
	default:
		pflag.Usage()
		code = 1
	}

	stop()
	logging.CloseLogger()
	os.Exit(code)
}

// levelFor maps the number of -v flags to a log level. Zero keeps the configured level.
func levelFor(verbosity int) string {
	switch {
	case verbosity <= 0:
		return ""
	case verbosity == 1:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func exitCode(res result.Result[int]) int {
	switch res.Status {
	case result.StatusSuccess, result.StatusDeferred:
		return 0
	case result.StatusCancelled:
		return 2
	default:
		return 1
	}
}
