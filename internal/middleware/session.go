// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/donorlink/internal/model"
	"github.com/hitoshi/donorlink/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッション状態を格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionStore はセッションの読み込みと永続化に必要なインターフェース。
// session.Managerが実装する。
type SessionStore interface {
	Load(ctx context.Context, r *http.Request) (*session.State, error)
	Commit(ctx context.Context, w http.ResponseWriter, state *session.State) error
}

// NewSessionMiddleware はCookieからセッションを復元してコンテキストに注入するミドルウェアを返す。
// ハンドラーが変更したセッションはレスポンスの最初の書き込みより前に保存される。
func NewSessionMiddleware(store SessionStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. セッションの復元
			state, err := store.Load(r.Context(), r)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			// 2. 書き込み前に保存するラッパーを挟んでハンドラーを実行
			sw := &sessionWriter{
				ResponseWriter: w,
				ctx:            r.Context(),
				store:          store,
				state:          state,
			}
			next.ServeHTTP(sw, r.WithContext(ContextWithSession(r.Context(), state)))

			// 3. 何も書き込まれなかった場合もここで保存する
			sw.commit()
		})
	}
}

// sessionWriter はレスポンスヘッダー送出の直前にセッションを保存する。
type sessionWriter struct {
	http.ResponseWriter
	ctx       context.Context
	store     SessionStore
	state     *session.State
	committed bool
}

func (sw *sessionWriter) commit() {
	if sw.committed {
		return
	}
	sw.committed = true
	if err := sw.store.Commit(sw.ctx, sw.ResponseWriter, sw.state); err != nil {
		slog.Error("failed to commit session",
			slog.String("error", err.Error()),
		)
	}
}

// WriteHeader はセッションを保存してから委譲する。
func (sw *sessionWriter) WriteHeader(code int) {
	sw.commit()
	sw.ResponseWriter.WriteHeader(code)
}

// Write はセッションを保存してから委譲する。
func (sw *sessionWriter) Write(b []byte) (int, error) {
	sw.commit()
	return sw.ResponseWriter.Write(b)
}

// NewRequireRoleMiddleware はroleでログインしていないリクエストを
// そのroleのログイン画面へ303でリダイレクトするミドルウェアを返す。
func NewRequireRoleMiddleware(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := SessionFromContext(r.Context())
			if state == nil || !state.Has(role) {
				http.Redirect(w, r, role.LoginPath(), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッション状態を取得する。
// セッションミドルウェアを通過していない場合はnilを返す。
func SessionFromContext(ctx context.Context) *session.State {
	state, _ := ctx.Value(sessionContextKey).(*session.State)
	return state
}

// ContextWithSession はコンテキストにセッション状態を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, state *session.State) context.Context {
	return context.WithValue(ctx, sessionContextKey, state)
}
