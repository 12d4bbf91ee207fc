package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lemonberrylabs/ruleengine/pkg/api"
	grpcapi "github.com/lemonberrylabs/ruleengine/pkg/api/grpc"
	"github.com/lemonberrylabs/ruleengine/pkg/rulefile"
	"github.com/lemonberrylabs/ruleengine/web"
)

type serveOptions struct {
	httpAddr string
	grpcAddr string
	rules    string
	noWatch  bool
	noUI     bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST and gRPC APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc", "", "gRPC listen address, \"off\" to disable")
	cmd.Flags().StringVar(&opts.rules, "rules", "", "Rule file or directory to load")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload rule files on change")
	cmd.Flags().BoolVar(&opts.noUI, "no-ui", false, "Disable the web UI")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	if opts.httpAddr != "" {
		cfg.Server.HTTPAddress = opts.httpAddr
	}
	if opts.grpcAddr != "" {
		cfg.Server.GRPCAddress = opts.grpcAddr
	}
	if opts.rules != "" {
		cfg.Rules.Path = opts.rules
	}
	if opts.noWatch {
		cfg.Rules.Watch = false
	}
	if opts.noUI {
		cfg.Server.UI = false
	}

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := rulefile.NewLoader(cfg.Rules.Path, a.engine.CheckSyntax, logger.With("component", "rulefile"))
	syncer := rulefile.NewSyncer(a.store, logger.With("component", "rulefile"))
	reload := func() error {
		set, err := loader.Load(ctx)
		if set != nil {
			if serr := syncer.Apply(set); serr != nil {
				err = errors.Join(err, serr)
			}
		}
		return err
	}
	rulesPresent := true
	if _, err := os.Stat(cfg.Rules.Path); err != nil {
		rulesPresent = false
		logger.Warn("rule path not found, starting with an empty store", "path", cfg.Rules.Path)
	} else if err := reload(); err != nil {
		logger.Error("some rule files failed to load", "error", err)
	}

	apiOpts := []api.Option{api.WithLogger(logger), api.WithBodyLimit(cfg.Server.BodyLimit)}
	if a.collector != nil {
		apiOpts = append(apiOpts, api.WithMetricsHandler(cfg.Metrics.Path, a.collector.Handler()))
	}
	server := api.New(a.store, a.engine, apiOpts...)
	if cfg.Server.UI {
		web.New(a.store, a.engine).Register(server.App())
	}

	g, gctx := errgroup.WithContext(ctx)

	if purger := a.purgeScheduler(); purger != nil {
		if err := purger.Start(gctx); err != nil {
			return err
		}
		defer purger.Stop()
	}

	if cfg.Rules.Watch && rulesPresent {
		w, err := rulefile.NewWatcher(cfg.Rules.Path, cfg.Rules.Debounce, logger.With("component", "rulefile"))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Watch(gctx, reload) })
		defer w.Stop()
	}

	var grpcServer *grpcapi.Server
	if cfg.Server.GRPCAddress != "off" {
		grpcServer = grpcapi.New(a.store, a.engine, logger)
		g.Go(func() error {
			logger.Info("gRPC server listening", "address", cfg.Server.GRPCAddress)
			if err := grpcServer.Serve(cfg.Server.GRPCAddress); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "address", cfg.Server.HTTPAddress,
			"rules", a.store.Len(), "ui", cfg.Server.UI)
		if err := server.Listen(cfg.Server.HTTPAddress); err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		done := make(chan error, 1)
		go func() { done <- server.Shutdown() }()
		select {
		case err := <-done:
			return err
		case <-time.After(cfg.Server.ShutdownTimeout):
			return fmt.Errorf("shutdown timed out after %s", cfg.Server.ShutdownTimeout)
		}
	})

	return g.Wait()
}
