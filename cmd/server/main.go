package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/sudo-init-do/blindbid/internal/admin"
	"github.com/sudo-init-do/blindbid/internal/alerts"
	"github.com/sudo-init-do/blindbid/internal/config"
	"github.com/sudo-init-do/blindbid/internal/db"
	"github.com/sudo-init-do/blindbid/internal/marketplace"
	"github.com/sudo-init-do/blindbid/internal/messaging"
	mware "github.com/sudo-init-do/blindbid/internal/middleware"
	"github.com/sudo-init-do/blindbid/internal/wallet"
)

var log = logging.Logger("server")

// backend bundles the storage-dependent collaborators
type backend struct {
	store   marketplace.Store
	wallets interface {
		marketplace.Settler
		wallet.Book
	}
	inbox alerts.Inbox
	pool  *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage; state is lost on restart")
		return &backend{
			store:   marketplace.NewMemoryStore(),
			wallets: wallet.NewMemoryWallets(),
			inbox:   alerts.NewMemoryInbox(),
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &backend{
		store:   db.NewListingStore(pool),
		wallets: wallet.NewPGWallets(pool),
		inbox:   alerts.NewPGInbox(pool),
		pool:    pool,
	}, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalw("server stopped", "err", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lvl, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if be.pool != nil {
		defer be.pool.Close()
	}

	eventLog := marketplace.NewEventLog(cfg.EventLogSize)
	processor := alerts.NewProcessor(be.inbox)
	sinks := marketplace.MultiSink{eventLog}

	var worker *asynq.Server
	if cfg.Alerts {
		redis := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		publisher := alerts.NewPublisher(redis)
		defer publisher.Close()
		sinks = append(sinks, publisher)
		worker = alerts.NewServer(redis, cfg.WorkerConcurrency)
	} else {
		sinks = append(sinks, alerts.Direct{Processor: processor})
	}

	ctrl, err := marketplace.NewController(marketplace.Config{
		RevealDuration:     cfg.RevealDuration.Duration,
		MaxAuctionDuration: cfg.MaxAuctionDuration.Duration,
	}, marketplace.Deps{
		Store:   be.store,
		Settler: be.wallets,
		Events:  sinks,
	})
	if err != nil {
		return err
	}

	clock := func() time.Time { return time.Now().UTC() }
	listings := marketplace.NewHandler(ctrl, eventLog)
	listings.Now = clock
	stream := messaging.NewStream(ctrl, eventLog)
	stream.Now = clock
	inbox := alerts.NewHandler(be.inbox)
	inbox.Now = clock
	wallets := wallet.NewHandler(be.wallets)
	stats := admin.NewHandler(ctrl)
	stats.Now = clock

	ready := atomic.NewBool(false)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "blindbid"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if !ready.Load() {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready"})
		}
		if be.pool != nil {
			if err := be.pool.Ping(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	secret := []byte(cfg.JWTSecret)

	// Public routes
	public := e.Group("")
	listings.RegisterPublic(public)
	stream.Register(public)

	// Protected routes
	api := e.Group("")
	api.Use(mware.JWT(secret))
	listings.RegisterAuthed(api)
	wallets.Register(api)
	inbox.Register(api)

	// Admin routes
	adminGroup := e.Group("/admin")
	adminGroup.Use(mware.JWT(secret), mware.RequireRoles(mware.RoleAdmin))
	listings.RegisterAdmin(adminGroup)
	stats.Register(adminGroup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("listening", "port", cfg.Port, "storage", cfg.Storage, "alerts", cfg.Alerts)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if worker != nil {
		g.Go(func() error {
			if err := worker.Start(processor.Mux()); err != nil {
				return err
			}
			<-gctx.Done()
			worker.Shutdown()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	ready.Store(true)

	return g.Wait()
}
