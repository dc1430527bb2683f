package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/admin"
	"jumpstudy/internal/auth"
	"jumpstudy/internal/config"
	"jumpstudy/internal/gate"
	"jumpstudy/internal/ledger"
	"jumpstudy/internal/logging"
	"jumpstudy/internal/metrics"
	"jumpstudy/internal/middleware"
	"jumpstudy/internal/queue"
	"jumpstudy/internal/storage"
	"jumpstudy/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Gate       *gate.Gate
	Ledger     *ledger.Service
	AdminStore auth.AdminStore
	AbuseLogs  *storage.AbuseLogRepository
	Refunds    *storage.RefundRepository
	Usage      *storage.UsageRepository
	Metrics    metrics.Metrics
	Audit      logging.Sink

	// Queue worker for async abuse log persistence
	AbuseLogWorker *storage.AbuseLogQueueWorker

	db        *storage.DB
	redis     *storage.RedisClient
	jwtSecret []byte

	signupBonus float64
	logger      *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	// Initialize database
	dbConfig := storage.DBConfig{
		URL:              cfg.Database.URL,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  cfg.Database.ConnMaxIdleTime,
		QueryTimeout:     cfg.Database.QueryTimeout,
		AccountCacheSize: cfg.Cache.AccountCacheSize,
		AccountCacheTTL:  cfg.Cache.AccountCacheTTL,
	}

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize Redis client
	redisClient, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Initialize repositories
	ledgerStore := db.NewLedgerStore()
	abuseLogRepo := db.NewAbuseLogRepository()
	refundRepo := db.NewRefundRepository()
	usageRepo := db.NewUsageRepository()
	adminUserRepo := db.NewAdminUserRepository()

	// Ledger service with retry policy
	ledgerService := ledger.New(ledgerStore,
		ledger.WithRetries(cfg.Ledger.MaxRetries, cfg.Ledger.RetryBackoff))

	// Risk scoring: Redis-backed activity counters feed the signal
	// collector, which feeds the scorer.
	activity := abuse.NewActivityTracker(redisClient.Client())
	collector := storage.NewSignalCollector(db, activity, cfg.Risk.DisposableEmailPatterns)

	var scorerOpts []abuse.ScorerOption
	if cfg.Risk.FailClosed {
		scorerOpts = append(scorerOpts, abuse.WithFailClosed())
	}
	scorer := abuse.NewScorer(collector, scorerOpts...)

	// Static admin override allow-lists
	overrides := admin.New(cfg.Admin.Emails, cfg.Admin.AccountIDs)

	// Abuse log queue: Redis-backed when Redis is configured, so queued
	// entries survive restarts; in-memory otherwise.
	var abuseQueue queue.Queue
	var abuseDLQ queue.DeadLetterQueue
	abuseQueueCfg := queue.DefaultConfig("abuse-log")

	if redisClient != nil && cfg.Redis.Address != "" {
		abuseQueue, err = queue.NewRedisQueue(redisClient.Client(), abuseQueueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create abuse log queue: %w", err)
		}
		abuseDLQ, err = queue.NewRedisDeadLetterQueue(redisClient.Client(), abuseQueueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create abuse log DLQ: %w", err)
		}
	} else {
		abuseQueue = queue.NewMemoryQueue(abuseQueueCfg)
		abuseDLQ = queue.NewMemoryDeadLetterQueue()
	}

	abuseLogWorker := storage.NewAbuseLogQueueWorker(abuseQueue, abuseDLQ, db, abuseQueueCfg)
	abuseLogWorker.Start(context.Background())

	// Decision audit sink: S3 batch writer when enabled, no-op otherwise
	var auditSink logging.Sink = logging.NewNoopSink()
	if cfg.Audit.Enabled {
		writer, err := logging.NewS3Writer(context.Background(),
			cfg.Audit.S3Bucket, cfg.Audit.S3Region, cfg.Audit.S3Prefix, cfg.Audit.PodName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit writer: %w", err)
		}
		auditSink = logging.NewS3Sink(writer, logging.S3SinkConfig{
			BufferSize:    cfg.Audit.BufferSize,
			FlushSize:     cfg.Audit.FlushSize,
			FlushInterval: cfg.Audit.FlushInterval,
			S3Bucket:      cfg.Audit.S3Bucket,
			S3Region:      cfg.Audit.S3Region,
			S3Prefix:      cfg.Audit.S3Prefix,
			PodName:       cfg.Audit.PodName,
		})
	}

	metricsCollector := metrics.NewCollector()

	accessGate := gate.New(ledgerService, scorer, overrides,
		gate.WithAbuseLog(abuseLogWorker),
		gate.WithAuditSink(auditSink),
		gate.WithMetrics(metricsCollector),
		gate.WithActivity(activity),
		gate.WithTempBanDuration(cfg.Risk.TempBanDuration),
	)

	deps := &Dependencies{
		Gate:           accessGate,
		Ledger:         ledgerService,
		AdminStore:     adminUserRepo,
		AbuseLogs:      abuseLogRepo,
		Refunds:        refundRepo,
		Usage:          usageRepo,
		Metrics:        metricsCollector,
		Audit:          auditSink,
		AbuseLogWorker: abuseLogWorker,
		db:             db,
		redis:          redisClient,
		jwtSecret:      cfg.JWTSecret,
		signupBonus:    cfg.Ledger.SignupBonusCredits,
		logger:         utils.NewLogger("httpapi"),
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

// Shutdown drains the async workers and closes the storage connections.
// Call it after the HTTP server has stopped accepting requests.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var firstErr error

	if d.AbuseLogWorker != nil {
		if err := d.AbuseLogWorker.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop abuse log worker: %w", err)
		}
	}
	if d.Audit != nil {
		if err := d.Audit.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to drain audit sink: %w", err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close Redis: %w", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close database: %w", err)
		}
	}

	return firstErr
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	// Credits API - public (callers are trusted backend services)
	mux.HandleFunc("POST /v1/authorize", deps.handleAuthorize)
	mux.HandleFunc("POST /v1/reconcile", deps.handleReconcile)
	mux.HandleFunc("POST /v1/accounts", deps.handleCreateAccount)
	mux.HandleFunc("GET /v1/credits/balance", deps.handleBalance)
	mux.HandleFunc("GET /v1/credits/history", deps.handleHistory)
	mux.HandleFunc("POST /v1/credits/purchase", deps.handlePurchase)
	mux.HandleFunc("POST /v1/refunds", deps.handleRefundRequest)

	// Health check endpoint - public
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.db != nil {
			if err := deps.db.Ping(r.Context()); err != nil {
				utils.RespondWithError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint - public
	mux.Handle("/metrics", deps.Metrics.HTTPHandler())

	// Admin authentication endpoint - public (no middleware)
	mux.HandleFunc("POST /admin/login", deps.handleAdminLogin)

	// Admin management endpoints - protected with AdminJWTMiddleware
	adminOnly := middleware.AdminJWTMiddleware(cfg.JWTSecret, auth.RoleAdmin)
	mux.Handle("POST /admin/accounts/{id}/ban", adminOnly(http.HandlerFunc(deps.handleAdminBan)))
	mux.Handle("POST /admin/accounts/{id}/unban", adminOnly(http.HandlerFunc(deps.handleAdminUnban)))
	mux.Handle("POST /admin/accounts/{id}/grant", adminOnly(http.HandlerFunc(deps.handleAdminGrant)))
	mux.Handle("POST /admin/refunds/{id}/approve", adminOnly(http.HandlerFunc(deps.handleRefundApprove)))
	mux.Handle("POST /admin/refunds/{id}/deny", adminOnly(http.HandlerFunc(deps.handleRefundDeny)))

	// Read-only endpoints require at least "viewer" role
	viewerOnly := middleware.AdminJWTMiddleware(cfg.JWTSecret, auth.RoleViewer)
	mux.Handle("GET /admin/abuse-logs", viewerOnly(http.HandlerFunc(deps.handleAdminAbuseLogs)))
	mux.Handle("GET /admin/refunds", viewerOnly(http.HandlerFunc(deps.handleRefundList)))
}
