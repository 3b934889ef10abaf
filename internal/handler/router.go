package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pagedesk/internal/metrics"
	"github.com/hitoshi/pagedesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 転送ヘッダーを信頼するプロキシ（空の場合はTCPの接続元をクライアントIPとする）
	TrustedProxies []netip.Prefix

	// ヘルスチェック（nil可）
	HealthChecker HealthChecker

	// 連携解除
	DeauthService DeauthServiceInterface

	// ページ一覧
	PageFetcher   PageFetcher
	FallbackToken string

	// メトリクス（nilの場合は記録せず、/metricsも公開しない）
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → RealIP → RequestID → Logging → Recovery → SecurityHeaders → Metrics
//
// CORSはOPTIONSをルーティング前に204で打ち切るため、プリフライトはボディ解析に到達しない。
// レート制限はエンドポイントごとに付与する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var mc metrics.MetricsCollector = metrics.NopCollector{}
	if deps.Metrics != nil {
		mc = deps.Metrics
	}

	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRealIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.InstrumentHandler)
	}

	deauthHandler := NewDeauthHandler(deps.DeauthService, mc)
	pagesHandler := NewPagesHandler(deps.PageFetcher, deps.FallbackToken, mc)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.WebhookMiddleware())
		}
		r.Post("/facebook-deauthorize", deauthHandler.Deauthorize)
		r.Get("/deletion_status", deauthHandler.DeletionStatus)
	})

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.PagesMiddleware())
		}
		r.Post("/fetch-facebook-pages", pagesHandler.FetchPages)
	})

	return r
}
