// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/pagedesk/internal/model"
)

// DeletionRequestRepository はデータ削除リクエストの永続化インターフェース。
type DeletionRequestRepository interface {
	// Create は削除リクエストを保存する。
	Create(ctx context.Context, req *model.DeletionRequest) error

	// FindByConfirmationCode は確認コードで削除リクエストを取得する。見つからない場合はnilを返す。
	FindByConfirmationCode(ctx context.Context, code string) (*model.DeletionRequest, error)

	// DeleteRequestedBefore はcutoffより前に受け付けた削除リクエストを削除し、削除件数を返す。
	DeleteRequestedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
