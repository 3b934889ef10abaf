// Package page はGraph APIから取得したページ情報を正規化する。
// 取得元によってフォロワー数やプロフィール画像のフィールド名・形状が異なるため、
// 固定の優先順位表に従って最初に存在する値を採用する。
package page

import (
	"encoding/json"

	"github.com/hitoshi/pagedesk/internal/model"
)

// RawPageRecord はGraph API（または旧クライアント）が返すページ情報の生データ。
// 各フィールドは型が合わない場合でもデコードエラーにせず「存在しない」として扱う。
type RawPageRecord struct {
	ID       optString `json:"id"`
	Name     optString `json:"name"`
	Category optString `json:"category"`

	// プロフィール画像: picture.data.url または profilePic
	Picture    rawPicture `json:"picture"`
	ProfilePic optString  `json:"profilePic"`

	// フォロワー数: followers_count, followers, fan_count のいずれか
	FollowersCount optNumber `json:"followers_count"`
	Followers      optNumber `json:"followers"`
	FanCount       optNumber `json:"fan_count"`

	// ページURL: link または pageUrl
	Link    optString `json:"link"`
	PageURL optString `json:"pageUrl"`
}

// stringSource は文字列フィールドの取得元を表す。
type stringSource struct {
	field string
	get   func(RawPageRecord) optString
}

// numberSource は数値フィールドの取得元を表す。
type numberSource struct {
	field string
	get   func(RawPageRecord) optNumber
}

// pictureSources はprofilePictureUrlの優先順位表。
var pictureSources = []stringSource{
	{"picture.data.url", func(r RawPageRecord) optString { return r.Picture.Data.URL }},
	{"profilePic", func(r RawPageRecord) optString { return r.ProfilePic }},
}

// followerSources はfollowerCountの優先順位表。
var followerSources = []numberSource{
	{"followers_count", func(r RawPageRecord) optNumber { return r.FollowersCount }},
	{"followers", func(r RawPageRecord) optNumber { return r.Followers }},
	{"fan_count", func(r RawPageRecord) optNumber { return r.FanCount }},
}

// pageURLSources はpageUrlの優先順位表。
var pageURLSources = []stringSource{
	{"link", func(r RawPageRecord) optString { return r.Link }},
	{"pageUrl", func(r RawPageRecord) optString { return r.PageURL }},
}

// Reconcile は生データを正規化済みのPageRecordに変換する。
// 失敗しない。任意フィールドが欠けている場合はnullまたは0になる。
// id・name・categoryはそのままコピーする（id/nameの欠落は呼び出し側で除外すること）。
func Reconcile(raw RawPageRecord) model.PageRecord {
	rec := model.PageRecord{
		ID:       raw.ID.Value,
		Name:     raw.Name.Value,
		Category: raw.Category.Value,
	}

	if v, ok := firstString(raw, pictureSources); ok {
		rec.ProfilePictureURL = &v
	}
	if v, ok := firstNumber(raw, followerSources); ok {
		rec.FollowerCount = v
	}
	if v, ok := firstString(raw, pageURLSources); ok {
		rec.PageURL = &v
	}

	return rec
}

// DecodeAll はGraph APIのdata配列の各要素をRawPageRecordにデコードする。
// オブジェクトでない要素は不正として除外し、除外件数を返す。
func DecodeAll(items []json.RawMessage) ([]RawPageRecord, int) {
	raws := make([]RawPageRecord, 0, len(items))
	dropped := 0
	for _, item := range items {
		var raw RawPageRecord
		if err := json.Unmarshal(item, &raw); err != nil {
			dropped++
			continue
		}
		raws = append(raws, raw)
	}
	return raws, dropped
}

// ReconcileAll は生データのリストを正規化する。
// idまたはnameが無いレコードは不正として除外し、除外件数を返す。
func ReconcileAll(raws []RawPageRecord) ([]model.PageRecord, int) {
	pages := make([]model.PageRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		if !IsWellFormed(raw) {
			dropped++
			continue
		}
		pages = append(pages, Reconcile(raw))
	}
	return pages, dropped
}

// IsWellFormed はレコードがidとnameを持つかどうかを返す。
func IsWellFormed(raw RawPageRecord) bool {
	return raw.ID.Present && raw.ID.Value != "" && raw.Name.Present && raw.Name.Value != ""
}

func firstString(raw RawPageRecord, sources []stringSource) (string, bool) {
	for _, src := range sources {
		if v := src.get(raw); v.Present {
			return v.Value, true
		}
	}
	return "", false
}

func firstNumber(raw RawPageRecord, sources []numberSource) (int64, bool) {
	for _, src := range sources {
		if v := src.get(raw); v.Present {
			return v.Value, true
		}
	}
	return 0, false
}
