package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/pagedesk/internal/metrics"
	"github.com/hitoshi/pagedesk/internal/model"
)

// maxCallbackBodySize は連携解除コールバックのリクエストボディ上限（64KiB）。
const maxCallbackBodySize = 64 << 10

// DeauthServiceInterface は連携解除ハンドラーが必要とするサービスインターフェース。
type DeauthServiceInterface interface {
	// Deauthorize はsigned_requestを検証し、確認コードとステータスURLを返す。
	Deauthorize(ctx context.Context, signedRequest string) (*model.DeauthorizationResult, error)
	// Status は確認コードに対応する削除リクエストを返す。
	Status(ctx context.Context, userID, code string) (*model.DeletionRequest, error)
}

// DeauthHandler はFacebookの連携解除コールバックと削除ステータス確認のHTTPハンドラー。
type DeauthHandler struct {
	service DeauthServiceInterface
	metrics metrics.MetricsCollector
}

// NewDeauthHandler はDeauthHandlerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewDeauthHandler(service DeauthServiceInterface, mc metrics.MetricsCollector) *DeauthHandler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &DeauthHandler{
		service: service,
		metrics: mc,
	}
}

// deauthorizeRequest はJSON形式のコールバックボディ。
type deauthorizeRequest struct {
	SignedRequest string `json:"signed_request"`
}

// deletionStatusResponse は削除ステータスのAPIレスポンス。
type deletionStatusResponse struct {
	UserID           string `json:"user_id"`
	ConfirmationCode string `json:"confirmation_code"`
	Status           string `json:"status"`
	RequestedAt      string `json:"requested_at"`
}

// Deauthorize はFacebookからの連携解除（データ削除）コールバックを処理する。
// POST /facebook-deauthorize
func (h *DeauthHandler) Deauthorize(w http.ResponseWriter, r *http.Request) {
	signedRequest, apiErr := readSignedRequest(w, r)
	if apiErr != nil {
		h.metrics.RecordDeauthorization(metrics.OutcomeRejected)
		h.metrics.RecordSignedRequestFailure(apiErr.Code)
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Deauthorize(r.Context(), signedRequest)
	if err != nil {
		h.recordFailure(err)
		handleServiceError(w, r, err)
		return
	}

	h.metrics.RecordDeauthorization(metrics.OutcomeAccepted)
	writeJSON(w, http.StatusOK, result)
}

// DeletionStatus は削除リクエストの処理状態を返す。
// GET /deletion_status?user_id=...&confirm_code=...
func (h *DeauthHandler) DeletionStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := h.service.Status(r.Context(), q.Get("user_id"), q.Get("confirm_code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deletionStatusResponse{
		UserID:           req.UserID,
		ConfirmationCode: req.ConfirmationCode,
		Status:           string(req.Status),
		RequestedAt:      req.RequestedAt.UTC().Format(time.RFC3339),
	})
}

// recordFailure はサービスエラーを処理結果ラベルに振り分けて記録する。
func (h *DeauthHandler) recordFailure(err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		h.metrics.RecordDeauthorization(metrics.OutcomeError)
		return
	}
	if apiErr.Code == model.ErrCodeServerMisconfigured {
		h.metrics.RecordDeauthorization(metrics.OutcomeMisconfigured)
		return
	}
	h.metrics.RecordDeauthorization(metrics.OutcomeRejected)
	h.metrics.RecordSignedRequestFailure(apiErr.Code)
}

// readSignedRequest はリクエストボディからsigned_requestを取り出す。
// Content-TypeがJSONまたはフォームの場合はその形式のみ、それ以外はJSON、フォームの順に試す。
func readSignedRequest(w http.ResponseWriter, r *http.Request) (string, *model.APIError) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", model.NewBadRequestError("リクエストボディが大きすぎます。")
		}
		return "", model.NewBadRequestError("リクエストボディを読み込めません。")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		value string
		ok    bool
	)
	switch mediaType {
	case "application/json":
		value, ok = signedRequestFromJSON(body)
	case "application/x-www-form-urlencoded":
		value, ok = signedRequestFromForm(body)
	default:
		if value, ok = signedRequestFromJSON(body); !ok {
			value, ok = signedRequestFromForm(body)
		}
	}

	if !ok {
		return "", model.NewBadRequestError("リクエストボディをデコードできません。")
	}
	if strings.TrimSpace(value) == "" {
		return "", model.NewMissingSignedRequestError()
	}
	return value, nil
}

// signedRequestFromJSON はJSONオブジェクトからsigned_requestを取り出す。
// JSONオブジェクトとして解釈できない場合はfalseを返す。
func signedRequestFromJSON(body []byte) (string, bool) {
	var req deauthorizeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", false
	}
	return req.SignedRequest, true
}

// signedRequestFromForm はフォームエンコードされたボディからsigned_requestを取り出す。
func signedRequestFromForm(body []byte) (string, bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false
	}
	return values.Get("signed_request"), true
}
