package svc

import (
	"database/sql"
	"log"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "tradewind/internal/cache"
	"tradewind/internal/config"
	persistpkg "tradewind/internal/persistence/decision"
	backtestpkg "tradewind/pkg/backtest"
	decisionpkg "tradewind/pkg/decision"
	"tradewind/pkg/decisionlog"
	enginepkg "tradewind/pkg/engine"
	"tradewind/pkg/perf"
)

// File names created under the configured data path.
const (
	decisionLogFile  = "decision_log.jsonl"
	metaStateFile    = "meta_state.json"
	perfSnapshotFile = "perf_history.msgpack"
)

type ServiceContext struct {
	Config config.Config

	DecisionConfig *decisionpkg.Config
	BacktestConfig *backtestpkg.Config

	Store   decisionlog.Store
	Adapter *decisionpkg.ThresholdAdapter
	Tracker *perf.Tracker
	Engine  *enginepkg.Engine

	// Optional collaborators, present only when configured.
	DBConn    sqlx.SqlConn
	Cache     gocache.Cache
	TTL       cachekeys.TTLSet
	Persister *persistpkg.Service
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{
		Config: c,
		TTL:    cachekeys.NewTTLSet(c.TTL),
	}

	decisionCfg := c.Decision.Value
	if decisionCfg == nil {
		decisionCfg = decisionpkg.DefaultConfig()
	}
	svc.DecisionConfig = decisionCfg

	backtestCfg := c.Backtest.Value
	if backtestCfg == nil {
		backtestCfg = backtestpkg.DefaultConfig()
	}
	svc.BacktestConfig = backtestCfg

	store, err := decisionlog.NewFileStore(filepath.Join(c.DataPath, decisionLogFile))
	if err != nil {
		log.Fatalf("failed to open decision log: %v", err)
	}
	svc.Store = store

	svc.Adapter = decisionpkg.NewThresholdAdapter(
		filepath.Join(c.DataPath, metaStateFile),
		decisionCfg.BaseConfidenceThreshold,
	)

	svc.Tracker = perf.NewTracker(perf.Options{})
	if err := svc.Tracker.Load(filepath.Join(c.DataPath, perfSnapshotFile)); err != nil {
		log.Fatalf("failed to load performance snapshot: %v", err)
	}

	eng, err := enginepkg.New(enginepkg.Options{
		Config:     decisionCfg,
		Store:      svc.Store,
		Adapter:    svc.Adapter,
		Tracker:    svc.Tracker,
		Mode:       "live",
		DataSource: "live",
	})
	if err != nil {
		log.Fatalf("failed to build decision engine: %v", err)
	}
	svc.Engine = eng

	// Only inject the database when a DSN is provided; the JSONL log stays
	// the source of truth either way.
	if c.Postgres.DSN != "" {
		svc.DBConn = sqlx.NewSqlConn("pgx", c.Postgres.DSN)
	}
	if strings.TrimSpace(c.Redis.Host) != "" {
		rds := redis.MustNewRedis(c.Redis)
		svc.Cache = gocache.NewNode(rds, syncx.NewSingleFlight(), gocache.NewStat(cachekeys.Namespace), sql.ErrNoRows)
	}
	svc.Persister = persistpkg.NewService(persistpkg.Config{
		SQLConn: svc.DBConn,
		Cache:   svc.Cache,
		TTL:     svc.TTL,
	})
	return svc
}

// PerfSnapshotPath is where the tracker's history is persisted.
func (s *ServiceContext) PerfSnapshotPath() string {
	return filepath.Join(s.Config.DataPath, perfSnapshotFile)
}
