package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heyitsaamir/conductor/internal/adapter/agentdir"
	"github.com/heyitsaamir/conductor/internal/adapter/anthropic"
	"github.com/heyitsaamir/conductor/internal/adapter/cache"
	_ "github.com/heyitsaamir/conductor/internal/adapter/chatbridge"
	httpdelegate "github.com/heyitsaamir/conductor/internal/adapter/delegate"
	cfhttp "github.com/heyitsaamir/conductor/internal/adapter/http"
	"github.com/heyitsaamir/conductor/internal/adapter/memory"
	cfnats "github.com/heyitsaamir/conductor/internal/adapter/nats"
	cfotel "github.com/heyitsaamir/conductor/internal/adapter/otel"
	"github.com/heyitsaamir/conductor/internal/adapter/postgres"
	"github.com/heyitsaamir/conductor/internal/adapter/ruleplanner"
	_ "github.com/heyitsaamir/conductor/internal/adapter/slack"
	"github.com/heyitsaamir/conductor/internal/adapter/sqlite"
	"github.com/heyitsaamir/conductor/internal/adapter/taskclient"
	"github.com/heyitsaamir/conductor/internal/adapter/ws"
	"github.com/heyitsaamir/conductor/internal/config"
	"github.com/heyitsaamir/conductor/internal/domain/message"
	"github.com/heyitsaamir/conductor/internal/middleware"
	portcache "github.com/heyitsaamir/conductor/internal/port/cache"
	"github.com/heyitsaamir/conductor/internal/port/delegate"
	"github.com/heyitsaamir/conductor/internal/port/messagequeue"
	"github.com/heyitsaamir/conductor/internal/port/notifier"
	"github.com/heyitsaamir/conductor/internal/port/planner"
	"github.com/heyitsaamir/conductor/internal/port/statestore"
	"github.com/heyitsaamir/conductor/internal/port/taskstore"
	"github.com/heyitsaamir/conductor/internal/resilience"
	"github.com/heyitsaamir/conductor/internal/service"
)

const (
	recvRate       = 20
	recvBurst      = 40
	idempotencyTTL = 10 * time.Minute
	shutdownGrace  = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, NATS subscribers and watchdog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, flush, err := loadConfig()
		if err != nil {
			return err
		}
		defer flush()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// app holds everything serve wires together.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	queue     *cfnats.Queue
	tasks     taskstore.Store
	states    statestore.Store
	cache     portcache.Cache
	agents    *agentdir.Directory
	conductor *service.ConductorService
	stateSvc  *service.StateService
	hub       *ws.Hub
	health    map[string]cfhttp.HealthCheck
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) breaker(name string) *resilience.Breaker {
	return resilience.NewBreaker(name, a.cfg.Breaker.MaxFailures, a.cfg.Breaker.Timeout)
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL, cfg.Logging.Service, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	a := &app{cfg: cfg, health: make(map[string]cfhttp.HealthCheck)}
	defer a.close()
	if err := a.wire(ctx); err != nil {
		return err
	}

	router := a.router(ctx)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.queue != nil {
		if err := a.subscribe(gctx); err != nil {
			return err
		}
	}
	if cfg.Watchdog.Enabled {
		wd := service.NewWatchdog(a.tasks, a.conductor, cfg.Watchdog.Interval, cfg.Watchdog.SLA)
		g.Go(func() error { return wd.Run(gctx) })
	}
	g.Go(func() error { return a.agents.Watch(gctx) })

	return g.Wait()
}

// wire builds stores, transports and services from config.
func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if cfg.NATS.Enabled {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		a.queue = q
		a.closers = append(a.closers, func() { _ = q.Drain() })
		a.health["nats"] = func(context.Context) error {
			if !q.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}

	if cfg.Storage.Driver == "postgres" || cfg.TaskStore.Driver == "postgres" {
		if err := a.openPostgres(ctx); err != nil {
			return err
		}
	}
	if err := a.openTaskStore(); err != nil {
		return err
	}
	if err := a.openStateStore(); err != nil {
		return err
	}
	if err := a.openCache(ctx); err != nil {
		return err
	}

	if cfg.Agents.File != "" {
		a.agents, err = agentdir.Load(cfg.Agents.File)
		if err != nil {
			return fmt.Errorf("agents: %w", err)
		}
	} else {
		a.agents = agentdir.New()
	}

	a.hub = ws.NewHub(originPatterns(cfg.Server.CORSOrigin))
	events := service.NewEventPublisher(a.messageQueue(), a.hub)

	pl, cl, drafter := a.openPlanner()

	a.stateSvc = service.NewStateService(a.states)
	executor := service.NewExecutorService(a.tasks, a.stateSvc, a.agents, a.openDispatcher())
	executor.SetEvents(events)
	executor.SetMetrics(metrics)
	if drafter != nil {
		executor.SetDrafter(drafter)
	}

	primary, mirrors, err := a.openNotifiers()
	if err != nil {
		return err
	}
	notify := service.NewConversationNotifier(a.tasks, a.stateSvc, primary, mirrors...)
	notify.SetEvents(events)

	a.conductor = service.NewConductorService(a.tasks, a.stateSvc, executor, pl, cl, a.agents, notify)
	a.conductor.SetEvents(events)
	a.conductor.SetMetrics(metrics)
	a.conductor.SetHistoryTail(cfg.Planner.HistoryTail)

	slog.Info("conductor wired",
		"task_store", cfg.TaskStore.Driver,
		"storage", cfg.Storage.Driver,
		"dispatch", cfg.Dispatch.Transport,
		"planner", cfg.Planner.Driver,
		"nats", a.queue != nil,
		"cache", a.cache != nil,
	)
	return nil
}

func (a *app) openPostgres(ctx context.Context) error {
	pool, err := postgres.NewPool(ctx, a.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.health["postgres"] = pool.Ping

	if err := postgres.RunMigrations(ctx, a.cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres connected, migrations applied")
	return nil
}

func (a *app) openTaskStore() error {
	switch a.cfg.TaskStore.Driver {
	case "http":
		c := taskclient.NewClient(a.cfg.TaskStore.URL, a.cfg.TaskStore.Timeout)
		c.SetBreaker(a.breaker("taskstore"))
		a.tasks = c
		a.health["task_store"] = c.Ping
	case "postgres":
		a.tasks = postgres.NewTaskStore(a.pool)
	case "memory":
		a.tasks = memory.NewTaskStore()
	default:
		return fmt.Errorf("unknown task store driver %q", a.cfg.TaskStore.Driver)
	}
	return nil
}

func (a *app) openStateStore() error {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		st, err := sqlite.Open(a.cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.states = st
		a.closers = append(a.closers, func() { _ = st.Close() })
	case "postgres":
		a.states = postgres.NewStateStore(a.pool)
	case "memory":
		a.states = memory.NewStateStore()
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	return nil
}

// openCache wraps the state store with L1 and, when NATS is up, the
// JetStream KV L2.
func (a *app) openCache(ctx context.Context) error {
	if !a.cfg.Cache.Enabled {
		return nil
	}
	l1, err := cache.NewL1(a.cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache l1: %w", err)
	}
	a.closers = append(a.closers, l1.Close)

	var l2 portcache.Cache
	if a.queue != nil {
		kv, err := cache.OpenL2(ctx, a.queue.JetStream(), a.cfg.Cache.L2Bucket, a.cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("cache l2: %w", err)
		}
		l2 = kv
	}
	a.cache = cache.NewTiered(l1, l2, a.cfg.Cache.L1TTL)
	a.states = cache.NewStateStore(a.states, a.cache, a.cfg.Cache.L2TTL)
	return nil
}

// messageQueue returns the queue as a port, or nil without NATS.
func (a *app) messageQueue() messagequeue.Queue {
	if a.queue == nil {
		return nil
	}
	return a.queue
}

func (a *app) openDispatcher() delegate.Dispatcher {
	if a.cfg.Dispatch.Transport == "nats" && a.queue != nil {
		return cfnats.NewDispatcher(a.queue)
	}
	d := httpdelegate.NewHTTP(a.cfg.Dispatch.SenderID, a.cfg.Dispatch.Timeout, httpdelegate.BreakerSettings{
		MaxFailures: a.cfg.Breaker.MaxFailures,
		Timeout:     a.cfg.Breaker.Timeout,
	})
	d.SetMaxInFlight(a.cfg.Dispatch.MaxInFlight)
	return d
}

func (a *app) openPlanner() (planner.Planner, planner.Clarifier, planner.Drafter) {
	if a.cfg.Planner.Driver == "anthropic" {
		c := anthropic.NewClient(anthropic.Config{
			APIKey:    a.cfg.Planner.APIKey,
			Model:     a.cfg.Planner.Model,
			MaxTokens: a.cfg.Planner.MaxTokens,
		})
		c.SetBreaker(a.breaker("anthropic"))
		return anthropic.NewPlanner(c), anthropic.NewClarifier(c), anthropic.NewDrafter(c)
	}
	rules := ruleplanner.New()
	return rules, rules, nil
}

// openNotifiers builds the chat bridge and, when configured, the Slack mirror.
func (a *app) openNotifiers() (notifier.Notifier, []notifier.Notifier, error) {
	primary, err := notifier.New("chatbridge", map[string]string{
		"url":     a.cfg.Chat.BridgeURL,
		"timeout": a.cfg.Dispatch.Timeout.String(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chat bridge: %w", err)
	}
	if b, ok := primary.(interface{ SetBreaker(*resilience.Breaker) }); ok {
		b.SetBreaker(a.breaker("chatbridge"))
	}

	mirrors, err := notifier.Configured(map[string]map[string]string{
		"slack": {"webhook_url": a.cfg.Slack.WebhookURL},
	})
	if err != nil {
		return nil, nil, err
	}
	return primary, mirrors, nil
}

// subscribe consumes do and did envelopes published to NATS.
func (a *app) subscribe(ctx context.Context) error {
	handle := func(ctx context.Context, _ string, data []byte) error {
		msg, err := message.Decode(data)
		if err != nil {
			return err
		}
		return a.conductor.Handle(ctx, msg)
	}
	for _, subject := range []string{messagequeue.SubjectDo, messagequeue.SubjectDid} {
		cancel, err := a.queue.Subscribe(ctx, subject, handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		a.closers = append(a.closers, cancel)
	}
	return nil
}

func (a *app) router(ctx context.Context) http.Handler {
	cfg := a.cfg
	limiter := middleware.NewRateLimiter(recvRate, recvBurst).WithKey(middleware.BySenderOrIP)
	limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)

	h := &cfhttp.Handlers{
		Conductor: a.conductor,
		States:    a.stateSvc,
		Tasks:     a.tasks,
		BodyLimit: cfg.Server.BodyLimit,
		Health:    a.health,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/ws", a.hub.HandleWS)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.Timeout))
		cfhttp.MountRoutes(r, h, cfhttp.RouteOptions{
			Idempotency:    a.cache,
			IdempotencyTTL: idempotencyTTL,
			RecvLimiter:    limiter,
		})
	})
	return r
}

// originPatterns turns the CORS origins into websocket origin patterns.
func originPatterns(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
