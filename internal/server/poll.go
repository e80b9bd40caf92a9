package server

import (
	"context"
	"fmt"
	"log"

	appconfig "github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/cursor"
	"github.com/assessor-platform/legistrack/internal/ingest"
	"github.com/assessor-platform/legistrack/internal/scheduler"
	"github.com/assessor-platform/legistrack/internal/store"
	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// PollOnce runs a single manual poll of one source without starting the
// HTTP server or the polling loop. Used by the poll CLI command.
func PollOnce(ctx context.Context, cfgPath, sourceID string) (scheduler.PollReport, error) {
	cfg, err := appconfig.LoadConfig(cfgPath)
	if err != nil {
		return scheduler.PollReport{}, err
	}

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return scheduler.PollReport{}, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return scheduler.PollReport{}, fmt.Errorf("postgres: %w", err)
	}
	defer st.Close()

	logger := log.New(log.Writer(), "[POLL] ", log.LstdFlags)
	var cursorStore cursor.Store
	if rdb, err := cursor.Conn(ctx, cfg.Storage.Redis); err != nil {
		logger.Printf("redis unavailable, cursor will not persist: %v", err)
		cursorStore = cursor.NewMemoryStore()
	} else {
		cursorStore = cursor.NewRedisStore(rdb)
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	engine := bills.NewEngine(cfg.Sources.Priority, authoritativeSources(cfg))
	pipeline := ingest.NewPipeline(engine, st, tele, logger)
	sched := scheduler.New(cfg.Scheduler, pipeline, cursorStore, tele, logger)
	for _, sc := range buildSourceClients(cfg) {
		sched.Register(sc.client, sc.schedule, sc.queryKey)
	}
	return sched.Trigger(ctx, sourceID)
}
