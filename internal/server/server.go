package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/agents"
	"github.com/assessor-platform/legistrack/internal/analysis"
	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/cursor"
	"github.com/assessor-platform/legistrack/internal/ingest"
	"github.com/assessor-platform/legistrack/internal/mcp"
	"github.com/assessor-platform/legistrack/internal/scheduler"
	"github.com/assessor-platform/legistrack/internal/sources"
	"github.com/assessor-platform/legistrack/internal/store"
	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// Run wires the whole service from configuration and serves HTTP until the
// listener fails. cfgPath and addr override the config file location and
// listen address; empty means use configuration.
func Run(cfgPath, addr string) error {
	cfg, err := appconfig.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	e := newEcho()

	ctx := context.Background()
	baseLogger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer st.Close()

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	tele.Register(prometheus.DefaultRegisterer)

	// Cursors and the analysis cache share one Redis connection. Without
	// Redis both fall back to memory; cursors then reset on restart, which
	// only costs a replay into the idempotent merge.
	var cursorStore cursor.Store
	var cacheBackend analysis.Backend
	if rdb, err := cursor.Conn(ctx, cfg.Storage.Redis); err != nil {
		baseLogger.Printf("redis unavailable, using in-memory cursors and cache: %v", err)
		cursorStore = cursor.NewMemoryStore()
		cacheBackend = analysis.NewMemoryBackend()
	} else {
		cursorStore = cursor.NewRedisStore(rdb)
		cacheBackend = analysis.NewRedisBackend(rdb, 24*time.Hour)
	}

	provider, err := analysis.NewProvider(cfg.Analysis)
	if err != nil && !errors.Is(err, analysis.ErrNoProvider) {
		return err
	}
	if provider == nil {
		baseLogger.Printf("no analysis provider configured; AI capabilities degrade per request")
	}
	cache := analysis.NewCache(cacheBackend, cfg.Analysis.MaxAge, tele)

	clients := buildSourceClients(cfg)
	var textResolver agents.TextResolver
	for _, sc := range clients {
		if r, ok := sc.client.(agents.TextResolver); ok {
			textResolver = r
			break
		}
	}

	registry := mcp.NewRegistry(log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags), cfg.Router.StrictRegistry)
	if err := agents.RegisterAll(registry, agents.Deps{
		Bills:    st,
		Provider: provider,
		Cache:    cache,
		Text:     textResolver,
		Model:    cfg.Analysis.Model,
		County:   cfg.Analysis.County,
		Logger:   log.New(log.Writer(), "[AGENTS] ", log.LstdFlags),
	}); err != nil {
		return err
	}
	router := mcp.NewRouter(registry, tele, log.New(log.Writer(), "[ROUTER] ", log.LstdFlags), cfg.Router.DispatchTimeout)

	engine := bills.NewEngine(cfg.Sources.Priority, authoritativeSources(cfg))
	pipeline := ingest.NewPipeline(engine, st, tele, log.New(log.Writer(), "[INGEST] ", log.LstdFlags))
	sched := scheduler.New(cfg.Scheduler, pipeline, cursorStore, tele, log.New(log.Writer(), "[SCHED] ", log.LstdFlags))
	for _, sc := range clients {
		sched.Register(sc.client, sc.schedule, sc.queryKey)
	}
	sched.Start()
	defer sched.Stop()

	router.SetProviderAvailability(func() map[string]bool {
		avail := map[string]bool{"analysis": provider != nil}
		for _, sc := range clients {
			avail[sc.client.ID()] = sc.client.Available()
		}
		return avail
	})

	h := &Handlers{Router: router, Bills: st, Sched: sched, Telemetry: tele}
	h.Register(e)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if addr == "" {
		addr = cfg.General.HTTPAddr
	}
	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with recovery, CORS and a JSON error
// handler shared by every route.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	return e
}

type sourceClient struct {
	client   sources.Client
	schedule string
	queryKey string
}

// buildSourceClients constructs every configured source. Unconfigured
// sources still register; the scheduler skips them until credentials appear.
func buildSourceClients(cfg *appconfig.Config) []sourceClient {
	httpc := sources.NewHTTPClient(30*time.Second, 2, 500*time.Millisecond)
	return []sourceClient{
		{sources.NewWALegislatureClient(cfg.Sources.WALegislature, httpc), cfg.Sources.WALegislature.Schedule, cfg.Sources.WALegislature.FeedURL},
		{sources.NewLegiScanClient(cfg.Sources.LegiScan, httpc), cfg.Sources.LegiScan.Schedule, cfg.Sources.LegiScan.State},
		{sources.NewOpenStatesClient(cfg.Sources.OpenStates, httpc), cfg.Sources.OpenStates.Schedule, cfg.Sources.OpenStates.Jurisdiction},
		{sources.NewLocalDocsClient(cfg.Sources.LocalDocs), cfg.Sources.LocalDocs.Schedule, cfg.Sources.LocalDocs.Dir},
	}
}

func authoritativeSources(cfg *appconfig.Config) []string {
	var out []string
	if cfg.Sources.WALegislature.Authoritative {
		out = append(out, sources.SourceWALegislature)
	}
	return out
}
