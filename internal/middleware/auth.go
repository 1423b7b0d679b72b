// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/apptwatch/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// clientIDContextKey はリクエストコンテキストに呼び出し元IDを格納するためのキー。
var clientIDContextKey = contextKey("client_id")

// NewTokenAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みリクエストには呼び出し元ID（接続元アドレス）をコンテキストに注入する。
// tokenが空の場合はすべてのリクエストを401で拒否する。
func NewTokenAuthMiddleware(token string, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if len(expected) == 0 || !strings.HasPrefix(header, bearerPrefix) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			presented := []byte(strings.TrimPrefix(header, bearerPrefix))
			if subtle.ConstantTimeCompare(presented, expected) != 1 {
				logger.Warn("APIトークンが一致しません",
					slog.String("path", r.URL.Path),
					slog.String("client_id", clientAddress(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithClientID(r.Context(), clientAddress(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFromContext はリクエストコンテキストから呼び出し元IDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ値を持つ。
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithClientID はコンテキストに呼び出し元IDを注入する。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

// clientAddress はRemoteAddrからポートを除いたホスト部を返す。
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
