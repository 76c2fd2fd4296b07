package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/srvmgr/internal/console"
	"github.com/CZERTAINLY/srvmgr/internal/log"
	"github.com/CZERTAINLY/srvmgr/internal/model"
	"github.com/CZERTAINLY/srvmgr/internal/serverpath"
	"github.com/CZERTAINLY/srvmgr/internal/service"
)

// intentBuffer is how many intents may wait while the router is busy stopping
// the server.
const intentBuffer = 16

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("srvmgr",
		slog.Int("pid", os.Getpid()),
	))

	store := serverpath.NewStore(config.Server.PathFile)
	con := console.New(os.Stdin, os.Stdout,
		console.WithStore(store),
		console.WithServerName(config.Server.DefaultName),
		console.WithLogger(slog.Default()),
	)
	defer con.Close()

	override := viper.GetString("server")
	if override == "" {
		override = config.Server.Path
	}
	resolver := serverpath.Resolver{
		Override:    override,
		Store:       store,
		DefaultName: config.Server.DefaultName,
		Prompter:    con,
	}
	resolved, err := resolver.Resolve(ctx)
	if err != nil {
		return fail(ctx, con, err)
	}
	slog.InfoContext(ctx, "using server path", "path", resolved.Path, "source", resolved.Source)

	newSupervisor, err := supervisorFunc(config.Server)
	if err != nil {
		return err
	}
	sup, err := newSupervisor(resolved.Path)
	if err != nil {
		return fail(ctx, con, err)
	}
	if err := sup.Start(ctx); err != nil {
		return fail(ctx, con, err)
	}
	sup.PipeOutput(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	intents := make(chan service.Intent, intentBuffer)
	scheduler, err := service.NewRestartScheduler(ctx, config.Server.Restart, service.RestartFunc(ctx, intents))
	if err != nil {
		sup.Stop(ctx)
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				slog.WarnContext(ctx, "shutting down restart scheduler", "error", err)
			}
		}()
	}

	router := service.NewRouter(slog.Default(), sup, newSupervisor)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the console is blocked on input, release it
		defer stop()
		return router.Do(gctx, intents)
	})
	g.Go(func() error {
		return con.Run(gctx, intents)
	})
	return g.Wait()
}

// supervisorFunc returns a function creating supervisors configured by cfg.
func supervisorFunc(cfg model.Server) (service.SupervisorFunc, error) {
	grace, err := cfg.Grace()
	if err != nil {
		return nil, fmt.Errorf("parsing server.grace_period: %w", err)
	}
	opts := []service.Option{
		service.WithLogger(slog.Default()),
		service.WithArgs(cfg.Args...),
		service.WithGracePeriod(grace),
		service.WithExitCommand(cfg.ExitCommand),
	}
	return func(path string) (*service.Supervisor, error) {
		return service.NewSupervisor(path, opts...)
	}, nil
}

// fail reports a failed first launch and waits for the operator before the
// program exits with status 1.
func fail(ctx context.Context, con *console.Console, err error) error {
	slog.ErrorContext(ctx, "failed to start server", "error", err)
	con.Acknowledge(ctx)
	return fmt.Errorf("%w: %w", errReported, err)
}
