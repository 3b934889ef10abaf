// Package deauth はFacebookのアプリ連携解除（データ削除）コールバックのドメインロジックを提供する。
package deauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pagedesk/internal/model"
	"github.com/hitoshi/pagedesk/internal/repository"
	"github.com/hitoshi/pagedesk/internal/signedrequest"
)

// confirmationCodePrefix は確認コードの接頭辞。
const confirmationCodePrefix = "del_"

// Service は連携解除リクエストを検証し、削除リクエストとして記録する。
type Service struct {
	repo      repository.DeletionRequestRepository
	appSecret string
	statusURL string
	now       func() time.Time
	logger    *slog.Logger
}

// NewService はServiceを生成する。
// appSecretが空の場合もServiceは生成され、Deauthorizeがサーバー設定エラーを返す。
func NewService(repo repository.DeletionRequestRepository, appSecret, statusURL string, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		appSecret: appSecret,
		statusURL: statusURL,
		now:       time.Now,
		logger:    logger,
	}
}

// Deauthorize はsigned_requestを検証し、確認コードとステータスURLを返す。
// 検証失敗は*model.APIErrorで返す。永続化に失敗した場合は結果を返さない。
func (s *Service) Deauthorize(ctx context.Context, signedRequest string) (*model.DeauthorizationResult, error) {
	if s.appSecret == "" {
		s.logger.Error("FACEBOOK_APP_SECRETが設定されていません")
		return nil, model.NewServerMisconfiguredError("FACEBOOK_APP_SECRET")
	}

	payload, err := signedrequest.Verify(signedRequest, s.appSecret)
	if err != nil {
		s.logger.Warn("signed_requestの検証に失敗しました",
			slog.String("reason", err.Error()),
		)
		return nil, mapVerifyError(err)
	}

	now := s.now()
	code := ConfirmationCode(payload.UserID, now)

	req := &model.DeletionRequest{
		ID:               uuid.New().String(),
		UserID:           payload.UserID,
		ConfirmationCode: code,
		Status:           model.DeletionStatusCompleted,
		RequestedAt:      now,
	}
	if payload.IssuedAt > 0 {
		issuedAt := time.Unix(payload.IssuedAt, 0)
		req.IssuedAt = &issuedAt
	}

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("削除リクエストの保存に失敗しました: %w", err)
	}

	s.logger.Info("連携解除リクエストを受け付けました",
		slog.String("user_id", payload.UserID),
		slog.String("confirmation_code", code),
	)

	return &model.DeauthorizationResult{
		URL:              StatusURL(s.statusURL, payload.UserID, code),
		ConfirmationCode: code,
	}, nil
}

// Status は確認コードに対応する削除リクエストを返す。
// 該当が無い場合、またはuser_idが一致しない場合はNotFoundエラーを返す。
func (s *Service) Status(ctx context.Context, userID, code string) (*model.DeletionRequest, error) {
	if userID == "" || code == "" {
		return nil, model.NewBadRequestError("user_id と confirm_code は必須です。")
	}

	req, err := s.repo.FindByConfirmationCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("削除リクエストの取得に失敗しました: %w", err)
	}
	if req == nil || req.UserID != userID {
		return nil, model.NewDeletionRequestNotFoundError()
	}
	return req, nil
}

// ConfirmationCode は "del_<user_id>_<unixミリ秒>" 形式の確認コードを生成する。
func ConfirmationCode(userID string, at time.Time) string {
	return confirmationCodePrefix + userID + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

// StatusURL はステータス確認URLを組み立てる。
// クエリはuser_id、confirm_codeの順に付与する。baseに既存クエリがある場合は&で連結する。
func StatusURL(base, userID, code string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "user_id=" + url.QueryEscape(userID) + "&confirm_code=" + url.QueryEscape(code)
}

// mapVerifyError は検証エラーをクライアント向けエラーに変換する。
func mapVerifyError(err error) *model.APIError {
	switch {
	case errors.Is(err, signedrequest.ErrMalformedInput):
		return model.NewMalformedSignedRequestError()
	case errors.Is(err, signedrequest.ErrDecode):
		return model.NewDecodeError(strings.TrimPrefix(err.Error(), signedrequest.ErrDecode.Error()+": "))
	case errors.Is(err, signedrequest.ErrUnsupportedAlgorithm):
		return model.NewUnsupportedAlgorithmError(algorithmFrom(err))
	case errors.Is(err, signedrequest.ErrSignatureMismatch):
		return model.NewSignatureMismatchError()
	case errors.Is(err, signedrequest.ErrMissingField):
		return model.NewMissingFieldError("user_id")
	default:
		return model.NewMalformedSignedRequestError()
	}
}

// algorithmFrom はErrUnsupportedAlgorithmのメッセージからアルゴリズム名を取り出す。
func algorithmFrom(err error) string {
	msg := strings.TrimPrefix(err.Error(), signedrequest.ErrUnsupportedAlgorithm.Error()+": ")
	if unquoted, uerr := strconv.Unquote(msg); uerr == nil {
		return unquoted
	}
	return msg
}
