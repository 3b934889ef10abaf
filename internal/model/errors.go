// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, signature, facebook, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeBadRequest              = "BAD_REQUEST"
	ErrCodeMalformedSignedRequest  = "MALFORMED_SIGNED_REQUEST"
	ErrCodeDecodeError             = "DECODE_ERROR"
	ErrCodeUnsupportedAlgorithm    = "UNSUPPORTED_ALGORITHM"
	ErrCodeSignatureMismatch       = "SIGNATURE_MISMATCH"
	ErrCodeMissingField            = "MISSING_FIELD"
	ErrCodeMissingToken            = "MISSING_TOKEN"
	ErrCodeUpstreamError           = "UPSTREAM_ERROR"
	ErrCodeServerMisconfigured     = "SERVER_MISCONFIGURED"
	ErrCodeDeletionRequestNotFound = "DELETION_REQUEST_NOT_FOUND"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewBadRequestError はリクエストボディの不備を表すエラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  reason,
		Category: "validation",
		Action:   "リクエストボディの形式と必須フィールドを確認してください。",
	}
}

// NewMissingSignedRequestError はsigned_requestが含まれない場合のエラーを生成する。
func NewMissingSignedRequestError() *APIError {
	return NewBadRequestError("signed_requestがありません。")
}

// NewMalformedSignedRequestError はsigned_requestの構造が不正な場合のエラーを生成する。
func NewMalformedSignedRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedSignedRequest,
		Message:  "signed_requestの形式が不正です。",
		Category: "signature",
		Action:   "signature.payload の形式で送信してください。",
	}
}

// NewDecodeError はsigned_requestのデコード失敗エラーを生成する。
func NewDecodeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeDecodeError,
		Message:  fmt.Sprintf("signed_requestのデコードに失敗しました: %s", reason),
		Category: "signature",
		Action:   "base64url形式のsignatureとJSONオブジェクトのpayloadを送信してください。",
	}
}

// NewUnsupportedAlgorithmError は未対応の署名アルゴリズムのエラーを生成する。
func NewUnsupportedAlgorithmError(algorithm string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedAlgorithm,
		Message:  fmt.Sprintf("未対応の署名アルゴリズムです: %q", algorithm),
		Category: "signature",
		Action:   "HMAC-SHA256で署名してください。",
	}
}

// NewSignatureMismatchError は署名不一致エラーを生成する。
func NewSignatureMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureMismatch,
		Message:  "signed_requestの署名が一致しません。",
		Category: "signature",
		Action:   "アプリシークレットで署名されたリクエストを送信してください。",
	}
}

// NewMissingFieldError はpayloadの必須フィールド欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("payloadに必須フィールドがありません: %s", field),
		Category: "signature",
		Action:   "payloadに必須フィールドを含めてください。",
	}
}

// NewMissingTokenError はアクセストークン未指定エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "アクセストークンが指定されていません。",
		Category: "validation",
		Action:   "accessToken または customToken を指定してください。",
	}
}

// NewUpstreamError はGraph APIが返したエラーを表す。メッセージは加工せずにそのまま渡す。
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  message,
		Category: "facebook",
		Action:   "アクセストークンの有効期限と権限を確認してください。",
	}
}

// NewServerMisconfiguredError はサーバー設定不備のエラーを生成する。
func NewServerMisconfiguredError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeServerMisconfigured,
		Message:  fmt.Sprintf("サーバーの設定が不足しています: %s", reason),
		Category: "system",
		Action:   "管理者に連絡してください。",
	}
}

// NewDeletionRequestNotFoundError は削除リクエストが見つからない場合のエラーを生成する。
func NewDeletionRequestNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeDeletionRequestNotFound,
		Message:  "指定された削除リクエストが見つかりません。",
		Category: "validation",
		Action:   "user_id と confirm_code を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
