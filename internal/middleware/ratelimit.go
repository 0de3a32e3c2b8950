package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/donorlink/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	OTPRate    rate.Limit    // コード送信のレート（req/sec）。10/60
	OTPBurst   int           // コード送信のバーストサイズ
	LoginRate  rate.Limit    // ログインPOSTのレート（req/sec）。20/60
	LoginBurst int           // ログインPOSTのバーストサイズ
	IdleTTL    time.Duration // この時間アクセスのないエントリは次回アクセス時に破棄する
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// コード送信 10 req/min/client、ログイン 20 req/min/client。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(10, 20)
}

// PerMinuteRateLimiterConfig は1分あたりの許容回数からレート制限設定を生成する。
func PerMinuteRateLimiterConfig(otpPerMinute, loginPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		OTPRate:    rate.Limit(float64(otpPerMinute) / 60.0),
		OTPBurst:   otpPerMinute,
		LoginRate:  rate.Limit(float64(loginPerMinute) / 60.0),
		LoginBurst: loginPerMinute,
		IdleTTL:    10 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてクライアントごとのリミッターを管理する。
// 期限切れエントリはバックグラウンド処理を持たず、アクセス時にまとめて破棄する。
type limiterSet struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
}

func newLimiterSet(limit rate.Limit, burst int, ttl time.Duration) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    burst,
		ttl:      ttl,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はクライアントのリミッターを取得または作成する。
func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)
	if cl, exists := s.limiters[key]; exists {
		cl.lastAccess = now
		return cl.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: now,
	}
	return limiter
}

// sweepLocked は前回の掃除からttl以上経過していれば期限切れエントリを削除する。
// 呼び出し側がロックを保持していること。
func (s *limiterSet) sweepLocked(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for key, cl := range s.limiters {
		if now.Sub(cl.lastAccess) > s.ttl {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter はクライアント（IPアドレス）ごとのレート制限を管理する。
// コード送信とログインの2種類を独立に提供する。
type RateLimiter struct {
	config RateLimiterConfig
	otp    *limiterSet
	login  *limiterSet
	now    func() time.Time
}

// NewRateLimiter は新しいRateLimiterを生成する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		otp:    newLimiterSet(config.OTPRate, config.OTPBurst, config.IdleTTL),
		login:  newLimiterSet(config.LoginRate, config.LoginBurst, config.IdleTTL),
		now:    time.Now,
	}
}

// OTPMiddleware はコード送信専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) OTPMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.otp, "otp")
}

// LoginMiddleware はログインPOST専用のレート制限ミドルウェアを返す。
// GETによるフォーム表示は制限しない。
func (rl *RateLimiter) LoginMiddleware() func(next http.Handler) http.Handler {
	limited := rl.middleware(rl.login, "login")
	return func(next http.Handler) http.Handler {
		guarded := limited(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) middleware(set *limiterSet, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			limiter := set.get(key, rl.now())

			if !limiter.AllowN(rl.now(), 1) {
				writeRateLimitResponse(w, set.limit)
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OTPLimiterCount は現在管理されているコード送信リミッターのエントリ数を返す。
// テスト用。
func (rl *RateLimiter) OTPLimiterCount() int {
	return rl.otp.count()
}

// LoginLimiterCount は現在管理されているログインリミッターのエントリ数を返す。
// テスト用。
func (rl *RateLimiter) LoginLimiterCount() int {
	return rl.login.count()
}

// ClientKey はレート制限のキーとしてクライアントのIPアドレスを返す。
// chiのRealIPミドルウェアの後に配置することを前提とする。
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	writeAPIError(w, http.StatusTooManyRequests, model.NewRateLimitError())
}
