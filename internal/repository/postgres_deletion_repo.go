package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/pagedesk/internal/model"
)

// PostgresDeletionRequestRepo はPostgreSQLを使用した削除リクエストリポジトリ。
type PostgresDeletionRequestRepo struct {
	db *sql.DB
}

// NewPostgresDeletionRequestRepo はPostgresDeletionRequestRepoを生成する。
func NewPostgresDeletionRequestRepo(db *sql.DB) *PostgresDeletionRequestRepo {
	return &PostgresDeletionRequestRepo{db: db}
}

// Create は削除リクエストを保存する。
// 同一の確認コードが既に存在する場合は何もしない（Facebookの再送に対して冪等）。
func (r *PostgresDeletionRequestRepo) Create(ctx context.Context, req *model.DeletionRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deletion_requests (id, user_id, confirmation_code, status, issued_at, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (confirmation_code) DO NOTHING`,
		req.ID, req.UserID, req.ConfirmationCode, string(req.Status), req.IssuedAt, req.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deletion request: %w", err)
	}
	return nil
}

// FindByConfirmationCode は確認コードで削除リクエストを取得する。見つからない場合はnilを返す。
func (r *PostgresDeletionRequestRepo) FindByConfirmationCode(ctx context.Context, code string) (*model.DeletionRequest, error) {
	req := &model.DeletionRequest{}
	var status string
	var issuedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, confirmation_code, status, issued_at, requested_at
		 FROM deletion_requests
		 WHERE confirmation_code = $1`,
		code,
	).Scan(&req.ID, &req.UserID, &req.ConfirmationCode, &status, &issuedAt, &req.RequestedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deletion request: %w", err)
	}

	req.Status = model.DeletionStatus(status)
	if issuedAt.Valid {
		t := issuedAt.Time
		req.IssuedAt = &t
	}
	return req, nil
}

// DeleteRequestedBefore はcutoffより前に受け付けた削除リクエストを削除する。
func (r *PostgresDeletionRequestRepo) DeleteRequestedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM deletion_requests WHERE requested_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete deletion requests: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ DeletionRequestRepository = (*PostgresDeletionRequestRepo)(nil)
