package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"algodesk/internal/auth"
	"algodesk/internal/config"
	"algodesk/internal/db"
	"algodesk/internal/health"
	"algodesk/internal/httpserver"
	"algodesk/internal/marketdata"
	"algodesk/internal/orders"
	"algodesk/internal/session"
	"algodesk/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()
	component := func(name string) zerolog.Logger {
		return log.Logger.With().Str("component", name).Logger()
	}

	client := brokerClient(cfg)
	mgr := session.NewManager(client, tokenStore(cfg), component("session"))

	bus := marketdata.NewBus()
	poller, err := marketdata.New(marketdata.Config{
		Interval:    cfg.RefreshInterval,
		Timeout:     cfg.BrokerTimeout,
		Symbols:     cfg.Symbols,
		HistorySize: cfg.HistorySize,
	}, client, mgr, bus, component("poller"))
	if err != nil {
		return err
	}

	// Registered before Restore so a persisted session starts polling.
	poller.FollowSession(ctx, mgr)

	restored, err := mgr.Restore()
	if err != nil {
		log.Warn().Err(err).Msg("persisted token unreadable, login required")
	} else if restored {
		log.Info().Msg("session restored from disk")
	}

	var expiry *session.Expiry
	if cfg.ExpiryCron != "" {
		expiry, err = session.NewExpiry(cfg.ExpiryCron, mgr, component("expiry"))
		if err != nil {
			return fmt.Errorf("token expiry schedule: %w", err)
		}
		expiry.Start()
	}

	journal, pool, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	authSvc, err := auth.NewEphemeralService("algodesk", 10*time.Minute)
	if err != nil {
		return err
	}
	authHandler := auth.NewHandler(authSvc, mgr, component("auth"))
	orderSvc := orders.NewService(poller, journal, component("orders"))
	pages, err := httpserver.NewPages(mgr, poller, orderSvc, authHandler, component("pages"))
	if err != nil {
		return err
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Origin:        cfg.WebSocketOrigin,
		Logger:        component("http"),
		Session:       mgr,
		AuthHandler:   authHandler,
		MarketHandler: marketdata.NewHandler(poller, marketdata.NewFrameWS(cfg.WebSocketOrigin, poller, bus, component("ws")), component("market")),
		OrderHandler:  orders.NewHandler(orderSvc, component("orders")),
		HealthHandler: health.NewHandler(mgr, poller, cfg.JournalDriver, pool, startedAt),
		Pages:         pages,
		RateLimiter:   httpserver.NewRateLimiter(10, 30),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("redirect_uri", cfg.RedirectURI).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if expiry != nil {
		if err := expiry.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("expiry shutdown")
		}
	}
	if err := poller.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("poller shutdown")
	}
	return nil
}

// openJournal returns the pool as well when the journal lives in Postgres,
// so health can ping it.
func openJournal(ctx context.Context, cfg config.Config) (orders.Journal, *pgxpool.Pool, error) {
	switch cfg.JournalDriver {
	case types.JournalSQLite:
		j, err := orders.OpenSQLite(cfg.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open order journal: %w", err)
		}
		return j, nil, nil
	case types.JournalPostgres:
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect order journal: %w", err)
		}
		j, err := orders.NewPostgresJournal(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return j, pool, nil
	default:
		return orders.NoopJournal{}, nil, nil
	}
}
