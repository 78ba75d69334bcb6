package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitoshi/fediurl/internal/middleware"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/security"
	"github.com/hitoshi/fediurl/internal/session"
	"github.com/hitoshi/fediurl/internal/view"
)

const (
	testCSRFToken = "csrf-test-token"
	testUserToken = "user-session-token"
)

// --- モック定義 ---

type mockAuthService struct {
	beginFn    func(ctx context.Context, domain, redirectURI string) (string, error)
	callbackFn func(ctx context.Context, domain, code, redirectURI string) (string, error)
}

func (m *mockAuthService) Begin(ctx context.Context, domain, redirectURI string) (string, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx, domain, redirectURI)
	}
	return "", errors.New("begin not configured")
}

func (m *mockAuthService) Callback(ctx context.Context, domain, code, redirectURI string) (string, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, domain, code, redirectURI)
	}
	return "", errors.New("callback not configured")
}

type mockInstances struct {
	findByIDFn func(ctx context.Context, id string) (*model.Instance, error)
}

func (m *mockInstances) FindByID(ctx context.Context, id string) (*model.Instance, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.Instance{ID: id, Domain: "mastodon.example"}, nil
}

type mockRewriter struct {
	rewriteFn func(ctx context.Context, user *model.AuthenticatedUser, remoteURL string) (*url.URL, error)
	calls     []string
}

func (m *mockRewriter) Rewrite(ctx context.Context, user *model.AuthenticatedUser, remoteURL string) (*url.URL, error) {
	m.calls = append(m.calls, remoteURL)
	if m.rewriteFn != nil {
		return m.rewriteFn(ctx, user, remoteURL)
	}
	return nil, nil
}

// tokenAuthenticator はtestUserTokenだけを受け付けるAuthenticator。
type tokenAuthenticator struct{}

func (tokenAuthenticator) Authenticate(_ context.Context, token string) (*model.AuthenticatedUser, error) {
	if token != testUserToken {
		return nil, errors.New("invalid token")
	}
	return &model.AuthenticatedUser{User: &model.User{ID: "user-1", InstanceID: "instance-1", AccessToken: "access"}}, nil
}

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error { return p.err }

// --- ヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func testRenderer(t *testing.T) *view.Renderer {
	t.Helper()
	r, err := view.New("test")
	require.NoError(t, err)
	return r
}

func testStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	return store
}

func newTestDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Logger:            testLogger(),
		Authenticator:     tokenAuthenticator{},
		CORSAllowedOrigin: "moz-extension://fediurl",
		RateLimiter:       rl,
		Renderer:          testRenderer(t),
		Instances:         &mockInstances{},
		AuthService:       &mockAuthService{},
		Cookies:           testStore(t),
		Domains:           security.NewGuard(false),
		Rewriter:          &mockRewriter{},
		HealthChecker:     fakePinger{},
	}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func signedIn(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: testUserToken})
	return req
}

func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.CSRFCookieName, Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	return req
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// readFlash はレスポンスが設定したフラッシュCookieを次のリクエストとして読み出す。
func readFlash(t *testing.T, w *httptest.ResponseRecorder) *view.Flash {
	t.Helper()
	c := findCookie(w, FlashCookieName)
	if c == nil {
		return nil
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	return popFlash(httptest.NewRecorder(), req)
}
