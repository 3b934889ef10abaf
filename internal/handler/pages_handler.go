package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pagedesk/internal/graph"
	"github.com/hitoshi/pagedesk/internal/metrics"
	"github.com/hitoshi/pagedesk/internal/middleware"
	"github.com/hitoshi/pagedesk/internal/model"
)

// maxPagesBodySize はページ一覧取得リクエストのボディ上限（16KiB）。
const maxPagesBodySize = 16 << 10

// ページ一覧取得の失敗理由ラベル。
const (
	failureMissingToken = "missing_token"
	failureUpstream     = "upstream"
	failureTransport    = "transport"
)

// PageFetcher はGraph APIからページ一覧を取得するインターフェース。
type PageFetcher interface {
	FetchPages(ctx context.Context, token string) ([]model.PageRecord, error)
}

// PagesHandler はページ一覧取得のHTTPハンドラー。
type PagesHandler struct {
	fetcher       PageFetcher
	fallbackToken string
	metrics       metrics.MetricsCollector
}

// NewPagesHandler はPagesHandlerを生成する。
// fallbackTokenはリクエストにトークンが含まれない場合に使用する。
func NewPagesHandler(fetcher PageFetcher, fallbackToken string, mc metrics.MetricsCollector) *PagesHandler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &PagesHandler{
		fetcher:       fetcher,
		fallbackToken: fallbackToken,
		metrics:       mc,
	}
}

// fetchPagesRequest はページ一覧取得リクエストのボディ。
type fetchPagesRequest struct {
	AccessToken string `json:"accessToken"`
	CustomToken string `json:"customToken"`
}

// fetchPagesResponse はページ一覧取得のAPIレスポンス。
type fetchPagesResponse struct {
	Pages []model.PageRecord `json:"pages"`
}

// FetchPages はトークンで管理可能なFacebookページの一覧を返す。
// POST /fetch-facebook-pages
func (h *PagesHandler) FetchPages(w http.ResponseWriter, r *http.Request) {
	var req fetchPagesRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPagesBodySize))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("リクエストボディを読み込めません。"))
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("リクエストボディのJSONが不正です。"))
			return
		}
	}

	token, err := graph.SelectToken(req.CustomToken, req.AccessToken, h.fallbackToken)
	if err != nil {
		h.metrics.RecordPagesFetchFailure(failureMissingToken)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingTokenError())
		return
	}

	start := time.Now()
	pages, err := h.fetcher.FetchPages(r.Context(), token)
	h.metrics.RecordPagesFetchLatency(time.Since(start))

	if err != nil {
		h.handleFetchError(w, r, err)
		return
	}

	h.metrics.RecordPagesFetchSuccess(len(pages))
	if pages == nil {
		pages = []model.PageRecord{}
	}
	writeJSON(w, http.StatusOK, fetchPagesResponse{Pages: pages})
}

// handleFetchError はページ取得エラーをレスポンスに変換する。
// Graph APIのエラーメッセージはそのままクライアントに返す。
func (h *PagesHandler) handleFetchError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *graph.UpstreamError
	switch {
	case errors.Is(err, graph.ErrMissingToken):
		h.metrics.RecordPagesFetchFailure(failureMissingToken)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingTokenError())
	case errors.As(err, &upstream):
		h.metrics.RecordPagesFetchFailure(failureUpstream)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUpstreamError(upstream.Message))
	default:
		h.metrics.RecordPagesFetchFailure(failureTransport)
		slog.Error("ページ一覧の取得に失敗しました",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
	}
}
