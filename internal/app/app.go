// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/teamman/internal/activity"
	"github.com/hitoshi/teamman/internal/admin"
	"github.com/hitoshi/teamman/internal/auth"
	"github.com/hitoshi/teamman/internal/cache"
	"github.com/hitoshi/teamman/internal/config"
	"github.com/hitoshi/teamman/internal/database"
	"github.com/hitoshi/teamman/internal/handler"
	"github.com/hitoshi/teamman/internal/invitation"
	"github.com/hitoshi/teamman/internal/logger"
	"github.com/hitoshi/teamman/internal/membership"
	"github.com/hitoshi/teamman/internal/metrics"
	"github.com/hitoshi/teamman/internal/middleware"
	"github.com/hitoshi/teamman/internal/repository"
	"github.com/hitoshi/teamman/internal/security"
	"github.com/hitoshi/teamman/internal/team"
	"github.com/hitoshi/teamman/internal/user"
	"github.com/hitoshi/teamman/internal/worker/outbox"
	"github.com/hitoshi/teamman/internal/worker/retention"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にもログを使えるよう、まず既定レベルで初期化する
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はコネクションプール設定付きでDB接続を確立する。
// メンバーシップ変更は行ロックを取るため、プール上限は控えめに保つ。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.OpenWithPool(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクスレジストリの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	teamRepo := repository.NewPostgresTeamRepo(db)
	memberRepo := repository.NewPostgresMembershipRepo(db)
	invRepo := repository.NewPostgresInvitationRepo(db)
	activityRepo := repository.NewPostgresActivityRepo(db)
	adminRepo := repository.NewPostgresAdminRepo(db)

	// 4. キャッシュストア（REDIS_ADDR未設定時はno-op）
	store := cache.NewRedisStore(cfg.RedisAddr, slog.Default())
	defer store.Close()

	// 5. 横断サービスの初期化
	recorder := activity.NewRecorder(activityRepo, collector)
	sanitizer := security.NewNameSanitizer()

	// 6. ドメインサービスの初期化
	teamService := team.NewService(teamRepo, memberRepo, userRepo, recorder, sanitizer)
	memberService := membership.NewService(memberRepo, teamRepo, userRepo, recorder, collector)
	invService := invitation.NewService(invRepo, teamRepo, userRepo, memberRepo, recorder, collector, cfg.InvitationTTL)
	userService := user.NewService(userRepo, sessionRepo, recorder, sanitizer)
	authService := auth.NewService(
		userRepo, sessionRepo, auth.NewBcryptHasher(), sanitizer,
		teamService, invService, recorder,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	adminService := admin.NewService(adminRepo, recorder, store, cfg.DashboardCacheTTL)

	// 7. レート制限（設定はreq/min単位、rate.Limitはreq/sec単位）
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		InviteRate:      rate.Limit(float64(cfg.RateLimitInvite) / 60.0),
		InviteBurst:     cfg.RateLimitInvite,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,
		HTTPMetrics: collector,
		Logger:      slog.Default(),

		MetricsHandler: metrics.SetupMetricsRoute(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		UserService:       userService,
		TeamService:       teamService,
		MemberService:     memberService,
		InvitationService: invService,
		ActivityService:   recorder,
		TeamViewer:        teamService,
		AdminService:      adminService,
		RoleUpdater:       userService,
		Subscriptions:     teamService,
		TeamDeleter:       teamService,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// プロフィール伝播outboxのドレインと、保持期間切れデータの整理を実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクスレジストリの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	memberRepo := repository.NewPostgresMembershipRepo(db)
	outboxRepo := repository.NewPostgresOutboxRepo(db)

	// 4. プロフィール伝播ワーカーの初期化
	drainer := outbox.NewDrainer(outboxRepo, memberRepo, slog.Default(), collector)
	drainer.BatchSize = cfg.OutboxBatchSize
	drainer.MaxAttempts = cfg.OutboxMaxAttempts

	// 5. 保持期間ジョブの初期化
	retentionJob := retention.NewJob(db, slog.Default(), collector)
	retentionJob.ActivityRetention = cfg.ActivityRetention
	retentionJob.InvitationTTL = cfg.InvitationTTL

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("drain_interval", cfg.OutboxDrainInterval),
		slog.Duration("retention_interval", cfg.RetentionInterval),
		slog.Int("outbox_batch_size", cfg.OutboxBatchSize),
	)

	// 保持期間ジョブをバックグラウンドで起動
	go retentionJob.Start(ctx, cfg.RetentionInterval)

	// outboxドレインをメインgoroutineで実行（ブロッキング）
	drainer.Start(ctx, cfg.OutboxDrainInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
