package model

// PageRecord はUIが扱う正規化済みのFacebookページ情報。
// Graph APIのレスポンス形状の差異は page.Reconcile で吸収する。
type PageRecord struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
	FollowerCount     int64   `json:"followerCount"`
	PageURL           *string `json:"pageUrl"`
}
