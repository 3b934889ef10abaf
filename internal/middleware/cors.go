package middleware

import "net/http"

// DefaultAllowedOrigin はオリジン未指定時に許可するオリジン。
const DefaultAllowedOrigin = "*"

// corsAllowedHeaders はブラウザクライアントが送信するヘッダー。
const corsAllowedHeaders = "authorization, x-client-info, apikey, content-type"

// NewCORSMiddleware は指定されたオリジンに対するCORSミドルウェアを返す。
// エラーレスポンスを含むすべてのレスポンスにCORSヘッダーを付与する。
// OPTIONSプリフライトリクエストにはボディを解析せず204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	if allowedOrigin == "" {
		allowedOrigin = DefaultAllowedOrigin
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "86400")

			// OPTIONSプリフライトリクエストには204で応答
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
