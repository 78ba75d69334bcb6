// Package session は署名付きセッショントークンの発行・検証とCookieの入出力を提供する。
// サーバー側にセッションレコードは持たず、トークンの完全性と有効期限のみで判定する。
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName はセッションCookieの名前。
	CookieName = "FEDIURL_SESSION"
	// DefaultMaxAge はセッションの最大有効期間（1週間）。
	DefaultMaxAge = 7 * 24 * time.Hour
	// MinSecretLength は署名鍵の最小バイト数。
	MinSecretLength = 32

	issuer = "fediurl"
)

// ErrInvalidToken はトークンの改ざん・期限切れ・形式不正を表す。
var ErrInvalidToken = errors.New("invalid session token")

// Store はHS256で署名したJWTをセッショントークンとして発行・検証する。
type Store struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewStore はStoreを生成する。secretはMinSecretLengthバイト以上であること。
// maxAgeが0以下の場合はDefaultMaxAgeを使う。
func NewStore(secret []byte, maxAge time.Duration) (*Store, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		secret: secret,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

// MaxAge はセッションの最大有効期間を返す。
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Issue はuserIDを格納したトークンと有効期限を返す。
func (s *Store) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("user ID is empty")
	}

	now := s.now()
	expiresAt := now.Add(s.maxAge)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate はトークンの署名と有効期限を検証し、userIDを返す。
// 失敗した場合はErrInvalidTokenをラップして返す。
func (s *Store) Validate(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// SetCookie はセッションCookieを書き込む。
// secureはリクエストが暗号化された経路で届いたかどうかに合わせる。
func (s *Store) SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Revoke はセッションCookieを削除するよう指示する。
func (s *Store) Revoke(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest はリクエストのセッションCookieからトークンを取り出す。
func TokenFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
