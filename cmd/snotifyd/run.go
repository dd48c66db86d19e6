package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/sssd-go/snotify/config"
	"github.com/sssd-go/snotify/eventloop"
	"github.com/sssd-go/snotify/files"
	"github.com/sssd-go/snotify/files/cache"
)

// terminationSignals are the signals that tell snotifyd to shut down.
var terminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// runConfiguration stores configuration for the run command.
var runConfiguration struct {
	// configPath is the path to the YAML configuration file.
	configPath string
}

// runCommand is the "snotifyd run" subcommand.
var runCommand = &cobra.Command{
	Use:          "run",
	Short:        "Run the notification daemon in the foreground",
	Args:         cobra.NoArgs,
	RunE:         runMain,
	SilenceUsage: true,
}

func init() {
	flags := runCommand.Flags()
	flags.StringVar(&runConfiguration.configPath, "config", "/etc/snotifyd/snotifyd.yaml", "path to the configuration file")
}

// daemonService adapts *files.Daemon's event loop to a suture.Service:
// Serve blocks running the loop until ctx is cancelled, at which point
// it returns nil so suture does not treat a clean shutdown as a crash
// to restart. The files.Daemon itself is not restarted by suture — only
// the reactor goroutine driving it is supervised, matching SPEC_FULL.md
// §4.10's note that supervision applies at the process level, never
// inside a WatchCtx.
type daemonService struct {
	loop *eventloop.Loop
}

func (s *daemonService) Serve(ctx context.Context) error {
	if err := s.loop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runMain loads configuration, wires the event loop and files daemon,
// and blocks until a termination signal arrives or the loop exits.
func runMain(_ *cobra.Command, _ []string) error {
	runID := uuid.New().String()
	log.SetPrefix("snotifyd[" + runID[:8] + "] ")

	cfg, err := config.Load(runConfiguration.configPath)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	loop, err := eventloop.New()
	if err != nil {
		return errors.Wrap(err, "start event loop")
	}

	store, err := cache.Open(cfg.Cache)
	if err != nil {
		return errors.Wrap(err, "open account cache")
	}
	defer store.Close()

	backend, err := files.LoadBackend(cfg.NSSModule)
	if err != nil {
		return errors.Wrap(err, "load nss module")
	}

	daemon, err := files.NewDaemon(loop, cfg, backend, store)
	if err != nil {
		return errors.Wrap(err, "start watches")
	}
	defer daemon.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor := suture.NewSimple("snotifyd")
	supervisor.Add(&daemonService{loop: loop})
	supervisorDone := make(chan error, 1)
	go func() { supervisorDone <- supervisor.Serve(ctx) }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, terminationSignals...)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	for {
		select {
		case sig := <-signals:
			log.Printf("snotifyd: received %s, shutting down", sig)
			cancel()
			<-supervisorDone
			return nil
		case <-reload:
			log.Printf("snotifyd: received SIGHUP, reloading %s", runConfiguration.configPath)
			newCfg, err := config.Load(runConfiguration.configPath)
			if err != nil {
				log.Printf("snotifyd: reload failed, keeping current configuration: %v", err)
				continue
			}
			done := make(chan error, 1)
			loop.Invoke(func() { done <- daemon.Reload(newCfg) })
			if err := <-done; err != nil {
				log.Printf("snotifyd: reload failed: %v", err)
			}
		case err := <-supervisorDone:
			return err
		}
	}
}
