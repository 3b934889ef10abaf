// Package graph はFacebook Graph APIのクライアントを提供する。
// ユーザーが管理するページ一覧の取得と、取得結果の正規化を行う。
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/pagedesk/internal/model"
	"github.com/hitoshi/pagedesk/internal/page"
)

const (
	// DefaultBaseURL はGraph APIのベースURL。
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultVersion はGraph APIのバージョン。
	DefaultVersion = "v23.0"
	// defaultMaxResponseSize はレスポンスボディの最大サイズ（1MiB）。
	defaultMaxResponseSize = 1 << 20

	// pageFields はページ一覧取得時に要求するフィールド。
	pageFields = "id,name,category,picture{url},followers_count,fan_count,link"
)

// defaultUpstreamMessage はerrorオブジェクトにメッセージが無い場合に使う。
const defaultUpstreamMessage = "Graph API returned an error"

// ErrMissingToken はアクセストークンが1つも指定されていないことを示す。
var ErrMissingToken = errors.New("graph: access token is required")

// UpstreamError はGraph APIのレスポンスに含まれるerrorオブジェクトを表す。
type UpstreamError struct {
	Message    string
	Type       string
	Code       int
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	return e.Message
}

// Config はClientの設定。
type Config struct {
	BaseURL         string
	Version         string
	MaxResponseSize int64
}

// Client はGraph APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
}

// NewClient はClientを生成する。
// httpClientには本番ではSSRFガード付きのクライアントを渡す。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = defaultMaxResponseSize
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

// SelectToken は候補のうち最初の空でないトークンを返す。
// 候補は優先度の高い順に渡す。すべて空の場合はErrMissingTokenを返す。
func SelectToken(candidates ...string) (string, error) {
	for _, c := range candidates {
		if t := strings.TrimSpace(c); t != "" {
			return t, nil
		}
	}
	return "", ErrMissingToken
}

// accountsResponse は /me/accounts のレスポンス。
// dataの要素は個別にデコードし、不正な要素だけを除外する。
type accountsResponse struct {
	Data  []json.RawMessage `json:"data"`
	Error *graphError       `json:"error"`
}

// graphError はGraph APIのerrorオブジェクト。
// 各フィールドは型が想定と異なってもデコードエラーにしない。
type graphError struct {
	Message lenientString `json:"message"`
	Type    lenientString `json:"type"`
	Code    lenientInt    `json:"code"`
}

// UnmarshalJSON はerrorが文字列の場合にそれをメッセージとして扱う。
func (e *graphError) UnmarshalJSON(data []byte) error {
	*e = graphError{}
	var msg string
	if err := json.Unmarshal(data, &msg); err == nil {
		e.Message = lenientString(msg)
		return nil
	}
	type plain graphError
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*e = graphError(v)
	return nil
}

// lenientString は文字列以外を空文字として扱う。
type lenientString string

func (s *lenientString) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		*s = ""
		return nil
	}
	*s = lenientString(v)
	return nil
}

// lenientInt は数値と数値文字列を受け付け、それ以外を0として扱う。
type lenientInt int

func (n *lenientInt) UnmarshalJSON(data []byte) error {
	*n = 0
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if i, err := strconv.Atoi(text); err == nil {
		*n = lenientInt(i)
		return nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && f >= math.MinInt32 && f <= math.MaxInt32 {
		*n = lenientInt(f)
	}
	return nil
}

// FetchPages はトークンで管理可能なページ一覧を取得し、正規化して返す。
// トークンが空の場合は通信せずにErrMissingTokenを返す。
// レスポンスにerrorオブジェクトが含まれる場合は*UpstreamErrorを返す（リトライしない）。
// オブジェクトでない要素と、idまたはnameを持たないレコードは除外する。
func (c *Client) FetchPages(ctx context.Context, token string) ([]model.PageRecord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	reqURL, err := url.Parse(c.config.BaseURL + "/" + c.config.Version + "/me/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("fields", pageFields)
	q.Set("access_token", token)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// URLにトークンが含まれるため、エラー文字列はそのままログに出さない
		c.logger.Error("Graph APIの呼び出しに失敗しました",
			slog.String("endpoint", "/me/accounts"),
		)
		return nil, fmt.Errorf("graph request failed: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}
	if int64(len(body)) > c.config.MaxResponseSize {
		return nil, fmt.Errorf("graph response exceeds %d bytes", c.config.MaxResponseSize)
	}

	var result accountsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("Graph APIのレスポンスのパースに失敗しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to parse graph response (status %d): %w", resp.StatusCode, err)
	}

	if result.Error != nil {
		upstream := &UpstreamError{
			Message:    string(result.Error.Message),
			Type:       string(result.Error.Type),
			Code:       int(result.Error.Code),
			StatusCode: resp.StatusCode,
		}
		if upstream.Message == "" {
			upstream.Message = defaultUpstreamMessage
		}
		c.logger.Warn("Graph APIがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("type", upstream.Type),
			slog.Int("code", upstream.Code),
		)
		return nil, upstream
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned status %d", resp.StatusCode)
	}

	raws, undecodable := page.DecodeAll(result.Data)
	pages, dropped := page.ReconcileAll(raws)
	dropped += undecodable
	if dropped > 0 {
		c.logger.Warn("不正なページ情報を除外しました",
			slog.Int("dropped", dropped),
		)
	}

	return pages, nil
}

// redactURLError は*url.ErrorからURL（access_tokenを含む）を取り除く。
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
