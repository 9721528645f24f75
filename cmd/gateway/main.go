package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/morviq/gateway/internal/config"
	"github.com/zhouzirui/morviq/gateway/internal/handler"
	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	"github.com/zhouzirui/morviq/gateway/internal/service/control"
	"github.com/zhouzirui/morviq/gateway/internal/service/frames"
	"github.com/zhouzirui/morviq/gateway/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Frame watcher: a failed start leaves the index empty but keeps the API up.
	watcher := frames.NewWatcher(frames.Options{
		Dir:         cfg.Frames.Directory,
		Format:      cfg.Frames.Format,
		Prefix:      cfg.Frames.Prefix,
		SettleDelay: cfg.Frames.SettleDelay,
	})
	if err := watcher.Start(ctx); err != nil {
		log.Printf("warning: failed to start frame watcher: %v", err)
	}

	// Renderer control channel
	var renderer session.Renderer
	var controlClient *control.Client
	if cfg.Renderer.Enabled {
		opts := control.DefaultOptions(cfg.Renderer.ControlAddr())
		opts.ReconnectDelay = cfg.Renderer.ReconnectDelay
		controlClient = control.NewClient(opts)
		controlClient.Connect()
		renderer = controlClient
	} else {
		log.Println("renderer control channel disabled by configuration")
	}

	registry := session.NewRegistry(session.Options{
		MaxSessions:   cfg.Session.MaxSessions,
		Timeout:       cfg.Session.Timeout,
		SweepInterval: cfg.Session.SweepInterval,
	}, renderer)

	deps := handler.Deps{Config: cfg, Registry: registry, Frames: watcher}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.NewRegistry()
	}
	router := handler.NewRouter(deps)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Morviq gateway listening on %s env=%s", srv.Addr, cfg.Server.Environment)
		return runServer(gctx, srv)
	})
	g.Go(func() error {
		return registry.Run(gctx)
	})

	runErr := g.Wait()

	registry.Close()
	if err := closeAll(watcher, controlClient); err != nil {
		log.Printf("shutdown errors: %v", err)
	}
	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
	log.Println("gateway stopped")
}

// closeAll releases the background components and aggregates their errors.
func closeAll(watcher *frames.Watcher, controlClient *control.Client) error {
	var result *multierror.Error
	if err := watcher.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if controlClient != nil {
		if err := controlClient.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// runServer serves until ctx is done. Request contexts are cancelled as soon
// as shutdown starts.
func runServer(ctx context.Context, srv *http.Server) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
