package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"noded/internal/adminapi"
	"noded/internal/config"
	"noded/internal/isolate"
	"noded/internal/node"
	"noded/internal/nodelog"
)

var version = "dev"

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatalf("noded: %v", err)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		logging    string
		daemonize  bool
		pidfile    string
	)

	root := &cobra.Command{
		Use:     "noded",
		Short:   "Application hosting runtime",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logging, daemonize, pidfile)
		},
	}
	root.Flags().StringVar(&configPath, "configuration", "", "path to the node configuration file (required)")
	root.Flags().StringVar(&logging, "logging", "console", "logging backend: console|json")
	root.Flags().BoolVar(&daemonize, "daemonize", false, "detach from the controlling terminal")
	root.Flags().StringVar(&pidfile, "pidfile", "", "write the process id to this path")
	return root
}

func run(configPath, logging string, daemonize bool, pidfile string) error {
	if configPath == "" {
		return fmt.Errorf("--configuration is required")
	}

	installLogger(logging)

	cfg, err := config.LoadNode(configPath)
	if err != nil {
		// Configuration errors abort the process before any loop runs; the
		// logger isn't trusted yet to be wired to a working sink.
		log.Printf("noded: configuration error: %v", err)
		os.Exit(1)
	}

	if daemonize {
		if err := daemonizeSelf(); err != nil {
			log.Printf("noded: daemonize failed: %v", err)
			os.Exit(1)
		}
	}
	if pidfile != "" {
		if err := os.WriteFile(pidfile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			log.Printf("noded: pidfile write failed: %v", err)
			os.Exit(1)
		}
		defer os.Remove(pidfile)
	}

	installCrashHandlers()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := node.New(cfg.Paths.Plugins, isolate.NewExecIsolate())
	if err := n.Start(ctx); err != nil {
		nodelog.Get().Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}

	adminSrv := &http.Server{Addr: cfg.Admin.Listen, Handler: adminapi.NewMux(n)}
	go func() {
		nodelog.Get().Info().Str("addr", cfg.Admin.Listen).Msg("admin API listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nodelog.Get().Error().Err(err).Msg("admin API server error")
		}
	}()

	waitForSignals(ctx, cancel, n)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	n.Stop()
	return nil
}

func installLogger(backend string) {
	var l zerolog.Logger
	switch backend {
	case "json":
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	nodelog.Set(l)
	adminapi.SetLogger(l)
}

// waitForSignals blocks until a terminating signal arrives, reloading the
// application list on SIGHUP without returning. SIGPIPE is ignored; the
// three fatal signals are handled separately by installCrashHandlers.
func waitForSignals(ctx context.Context, cancel context.CancelFunc, n *node.Node) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := n.Reload(); err != nil {
					nodelog.Get().Warn().Err(err).Msg("reload failed")
				} else {
					nodelog.Get().Info().Msg("application list reloaded")
				}
			case syscall.SIGPIPE:
				// blocked: nothing to do, keep looping.
			default:
				nodelog.Get().Info().Str("signal", sig.String()).Msg("shutting down")
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// installCrashHandlers prints a stack trace on a fatal signal and re-raises
// it with its default disposition so the OS still produces a core dump.
func installCrashHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGABRT, syscall.SIGBUS, syscall.SIGSEGV)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "noded: fatal signal %s\n%s\n", sig, debug.Stack())
		signal.Reset(sig)
		_ = syscall.Kill(os.Getpid(), sig.(syscall.Signal))
	}()
}

func daemonizeSelf() error {
	if os.Getenv("NODED_DAEMONIZED") == "1" {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), "NODED_DAEMONIZED=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
