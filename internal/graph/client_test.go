package graph

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestClient(t *testing.T, server *httptest.Server, buf *bytes.Buffer) *Client {
	t.Helper()
	return NewClient(server.Client(), newTestLogger(buf), Config{BaseURL: server.URL})
}

func TestSelectToken_Precedence(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"first wins", []string{"primary", "fallback"}, "primary"},
		{"blank primary skipped", []string{"  ", "fallback"}, "fallback"},
		{"empty primary skipped", []string{"", "", "last"}, "last"},
		{"trimmed", []string{" tok "}, "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectToken(tt.candidates...)
			if err != nil {
				t.Fatalf("SelectToken() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectToken_NoneReturnsErrMissingToken(t *testing.T) {
	if _, err := SelectToken(); !errors.Is(err, ErrMissingToken) {
		t.Errorf("SelectToken() error = %v, want ErrMissingToken", err)
	}
	if _, err := SelectToken("", " "); !errors.Is(err, ErrMissingToken) {
		t.Errorf("SelectToken(blank) error = %v, want ErrMissingToken", err)
	}
}

func TestClient_FetchPages_MissingToken_MakesNoRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	_, err := c.FetchPages(context.Background(), "")
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("FetchPages() error = %v, want ErrMissingToken", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}
}

func TestClient_FetchPages_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if r.URL.Path != "/v23.0/me/accounts" {
			t.Errorf("path = %s, want /v23.0/me/accounts", r.URL.Path)
		}
		if got := r.URL.Query().Get("access_token"); got != "page-token" {
			t.Errorf("access_token = %q, want %q", got, "page-token")
		}
		if got := r.URL.Query().Get("fields"); got != pageFields {
			t.Errorf("fields = %q, want %q", got, pageFields)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"id":"1","name":"Cafe","category":"Restaurant","fan_count":50,
			 "picture":{"data":{"url":"https://cdn.example.com/1.jpg"}},
			 "link":"https://www.facebook.com/cafe"},
			{"id":"2","name":"Shop","category":"Retail","followers_count":1200},
			{"category":"no id or name"}
		],"paging":{"cursors":{"before":"a","after":"b"}}}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	pages, err := c.FetchPages(context.Background(), "page-token")
	if err != nil {
		t.Fatalf("FetchPages() error = %v", err)
	}

	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}
	if pages[0].FollowerCount != 50 {
		t.Errorf("pages[0].FollowerCount = %d, want 50", pages[0].FollowerCount)
	}
	if pages[0].ProfilePictureURL == nil || *pages[0].ProfilePictureURL != "https://cdn.example.com/1.jpg" {
		t.Errorf("pages[0].ProfilePictureURL = %v", pages[0].ProfilePictureURL)
	}
	if pages[0].PageURL == nil || *pages[0].PageURL != "https://www.facebook.com/cafe" {
		t.Errorf("pages[0].PageURL = %v", pages[0].PageURL)
	}
	if pages[1].FollowerCount != 1200 {
		t.Errorf("pages[1].FollowerCount = %d, want 1200", pages[1].FollowerCount)
	}
	if pages[1].ProfilePictureURL != nil {
		t.Errorf("pages[1].ProfilePictureURL = %q, want nil", *pages[1].ProfilePictureURL)
	}

	if strings.Contains(buf.String(), "page-token") {
		t.Error("ログにアクセストークンが含まれてはならない")
	}
}

func TestClient_FetchPages_EmptyList_IsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	pages, err := c.FetchPages(context.Background(), "token")
	if err != nil {
		t.Fatalf("FetchPages() error = %v", err)
	}
	if pages == nil || len(pages) != 0 {
		t.Errorf("pages = %v, want empty slice", pages)
	}
}

func TestClient_FetchPages_UpstreamError_PassesMessageThrough(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Error validating access token: Session has expired","type":"OAuthException","code":190}}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	_, err := c.FetchPages(context.Background(), "expired")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("FetchPages() error = %v, want *UpstreamError", err)
	}
	if upstream.Message != "Error validating access token: Session has expired" {
		t.Errorf("Message = %q", upstream.Message)
	}
	if upstream.Code != 190 || upstream.Type != "OAuthException" {
		t.Errorf("Code/Type = %d/%q, want 190/OAuthException", upstream.Code, upstream.Type)
	}
	if upstream.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", upstream.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry)", n)
	}
}

func TestClient_FetchPages_NonObjectItems_AreDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"1","name":"A"},42,"x",{"id":"2","name":"B"}]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	pages, err := c.FetchPages(context.Background(), "token")
	if err != nil {
		t.Fatalf("FetchPages() error = %v", err)
	}
	if len(pages) != 2 || pages[0].ID != "1" || pages[1].ID != "2" {
		t.Errorf("pages = %+v, want ids 1 and 2", pages)
	}
	if !strings.Contains(buf.String(), `"dropped":2`) {
		t.Errorf("log should record dropped=2, got %s", buf.String())
	}
}

func TestClient_FetchPages_LenientErrorObject(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
		wantCode    int
	}{
		{"string code", `{"error":{"message":"bad token","code":"190"}}`, "bad token", 190},
		{"object code", `{"error":{"message":"bad token","code":{"x":1},"type":5}}`, "bad token", 0},
		{"string error", `{"error":"bad token"}`, "bad token", 0},
		{"no message", `{"error":{"code":4}}`, defaultUpstreamMessage, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			var buf bytes.Buffer
			c := newTestClient(t, server, &buf)

			_, err := c.FetchPages(context.Background(), "token")

			var upstream *UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("FetchPages() error = %v, want *UpstreamError", err)
			}
			if upstream.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", upstream.Message, tt.wantMessage)
			}
			if upstream.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", upstream.Code, tt.wantCode)
			}
		})
	}
}

func TestClient_FetchPages_InvalidJSON_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	_, err := c.FetchPages(context.Background(), "token")
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		t.Error("non-JSON response should not be reported as UpstreamError")
	}
}

func TestClient_FetchPages_ResponseTooLarge_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[` + strings.Repeat(`{"id":"1","name":"x"},`, 100) + `{"id":"2","name":"y"}]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), Config{BaseURL: server.URL, MaxResponseSize: 64})

	if _, err := c.FetchPages(context.Background(), "token"); err == nil {
		t.Fatal("expected error for oversized response")
	}
}

func TestClient_FetchPages_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchPages(ctx, "secret-token")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchPages() error = %v, want context.Canceled", err)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Error("エラーメッセージにアクセストークンが含まれてはならない")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(http.DefaultClient, newTestLogger(&buf), Config{BaseURL: "https://graph.example.com/"})

	if c.config.BaseURL != "https://graph.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.config.BaseURL)
	}
	if c.config.Version != DefaultVersion {
		t.Errorf("Version = %q, want %q", c.config.Version, DefaultVersion)
	}
	if c.config.MaxResponseSize != defaultMaxResponseSize {
		t.Errorf("MaxResponseSize = %d, want %d", c.config.MaxResponseSize, defaultMaxResponseSize)
	}
}
