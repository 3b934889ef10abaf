package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/netutil"

	"github.com/hitoshi/pagedesk/internal/config"
	"github.com/hitoshi/pagedesk/internal/database"
	"github.com/hitoshi/pagedesk/internal/deauth"
	"github.com/hitoshi/pagedesk/internal/graph"
	"github.com/hitoshi/pagedesk/internal/handler"
	"github.com/hitoshi/pagedesk/internal/logger"
	"github.com/hitoshi/pagedesk/internal/metrics"
	"github.com/hitoshi/pagedesk/internal/middleware"
	"github.com/hitoshi/pagedesk/internal/repository"
	"github.com/hitoshi/pagedesk/internal/security"
	"github.com/hitoshi/pagedesk/internal/worker/cleanup"
)

// dbConnectTimeout は起動時のDB疎通確認のタイムアウト。
const dbConnectTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映してロガーを再設定する
	log := logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, log, nil
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
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// serverDeps はHTTPハンドラーの構築に必要な外部依存。
type serverDeps struct {
	healthChecker handler.HealthChecker
	repo          repository.DeletionRequestRepository
	registry      *prometheus.Registry
	logger        *slog.Logger
}

// buildHandler は設定と外部依存から全エンドポイントを持つHTTPハンドラーを構築する。
// 返却する関数はレートリミッターのクリーンアップを停止する。
func buildHandler(cfg *config.Config, deps serverDeps) (http.Handler, func(), error) {
	// 1. Graph APIのベースURLを検証し、SSRFガード付きクライアントを生成する
	ssrfGuard := security.NewSSRFGuard()
	if err := ssrfGuard.ValidateBaseURL(cfg.GraphAPIBaseURL); err != nil {
		return nil, nil, fmt.Errorf("invalid GRAPH_API_BASE_URL: %w", err)
	}
	graphClient := graph.NewClient(
		ssrfGuard.NewSafeClient(cfg.GraphTimeout),
		deps.logger,
		graph.Config{
			BaseURL:         cfg.GraphAPIBaseURL,
			Version:         cfg.GraphAPIVersion,
			MaxResponseSize: cfg.GraphMaxResponseSize,
		},
	)

	// 2. ドメインサービス
	if cfg.FacebookAppSecret == "" {
		deps.logger.Warn("FACEBOOK_APP_SECRET is not set; deauthorization callbacks will fail")
	}
	deauthService := deauth.NewService(deps.repo, cfg.FacebookAppSecret, cfg.DeletionStatusURL, deps.logger)

	// 3. メトリクス
	collector := metrics.NewCollector(deps.registry)

	// 4. レート制限（req/min -> req/sec に変換）
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid TRUSTED_PROXY_CIDRS: %w", err)
	}
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitWebhook, cfg.RateLimitPages))
	rateLimiter.OnLimited = collector.RecordRateLimited

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TrustedProxies:    trustedProxies,
		Logger:            deps.logger,
		HealthChecker:     deps.healthChecker,
		DeauthService:     deauthService,
		PageFetcher:       graphClient,
		FallbackToken:     cfg.FacebookPageAccessToken,
		Metrics:           collector,
		Gatherer:          deps.registry,
	})

	return router, rateLimiter.Stop, nil
}

// newRegistry はGoランタイムとプロセスのメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established")

	// 2. ハンドラーの構築
	router, stopLimiter, err := buildHandler(cfg, serverDeps{
		healthChecker: db,
		repo:          repository.NewPostgresDeletionRequestRepo(db),
		registry:      newRegistry(),
		logger:        log,
	})
	if err != nil {
		return err
	}
	defer stopLimiter()

	// 3. HTTPサーバーの起動
	listener, err := newListener(":"+cfg.ServerPort, cfg.ServerMaxConnections)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.GraphTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// newListener はaddrでTCPリスナーを開く。
// maxConnsが正の場合は同時接続数をmaxConnsに制限する。
func newListener(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、削除リクエスト記録のクリーンアップジョブを定期実行する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive: %s", cfg.CleanupInterval)
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	// ワーカーのメトリクスはスクレイプ対象外のため、記録のみ行う
	collector := metrics.NewCollector(prometheus.NewRegistry())

	job := cleanup.NewCleanupJob(repository.NewPostgresDeletionRequestRepo(db), collector, log)
	job.RetentionDays = cfg.DeletionRetentionDays

	log.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.DeletionRetentionDays),
	)

	job.Start(ctx, cfg.CleanupInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
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
