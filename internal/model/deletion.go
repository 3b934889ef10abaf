package model

import "time"

// DeletionStatus はデータ削除リクエストの処理状態を表す。
type DeletionStatus string

// DeletionStatusCompleted は削除処理が完了したことを示す。
const DeletionStatusCompleted DeletionStatus = "completed"

// DeletionRequest はFacebookから受け取ったアプリ連携解除（データ削除）リクエスト。
type DeletionRequest struct {
	ID               string
	UserID           string
	ConfirmationCode string
	Status           DeletionStatus
	IssuedAt         *time.Time // signed_requestのissued_at（存在する場合のみ）
	RequestedAt      time.Time
}

// DeauthorizationResult はFacebookのデータ削除コールバックに返すレスポンス。
type DeauthorizationResult struct {
	URL              string `json:"url"`
	ConfirmationCode string `json:"confirmation_code"`
}
