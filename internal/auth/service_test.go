package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/session"
)

// --- モック定義 ---

type mockInstances struct {
	resolveFn      func(ctx context.Context, domain, redirectURI string) (*model.Instance, error)
	findByDomainFn func(ctx context.Context, domain string) (*model.Instance, error)
}

func (m *mockInstances) Resolve(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
	return m.resolveFn(ctx, domain, redirectURI)
}

func (m *mockInstances) FindByDomain(ctx context.Context, domain string) (*model.Instance, error) {
	return m.findByDomainFn(ctx, domain)
}

type mockOAuth struct {
	exchangeCalls int
	exchangeFn    func(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error)
}

func (m *mockOAuth) AuthorizeURL(base *url.URL, clientID, redirectURI string) string {
	q := url.Values{"client_id": {clientID}, "redirect_uri": {redirectURI}}
	return base.JoinPath("oauth", "authorize").String() + "?" + q.Encode()
}

func (m *mockOAuth) ExchangeCode(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error) {
	m.exchangeCalls++
	return m.exchangeFn(ctx, base, clientID, clientSecret, redirectURI, code)
}

type mockUserRepo struct {
	created    []*model.User
	createFn   func(ctx context.Context, user *model.User) error
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	for _, u := range m.created {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, user); err != nil {
			return err
		}
	}
	m.created = append(m.created, user)
	return nil
}

var testInstance = &model.Instance{
	ID:           "instance-1",
	Domain:       "mastodon.example",
	ClientID:     "cid",
	ClientSecret: "csecret",
}

const testRedirectURI = "https://fediurl.example/auth/mastodon.example"

func newTestService(t *testing.T, instances *mockInstances, oauth *mockOAuth, users *mockUserRepo) (*Service, *session.Store) {
	t.Helper()
	store, err := session.NewStore([]byte(strings.Repeat("s", session.MinSecretLength)), 0)
	require.NoError(t, err)
	return NewService(instances, oauth, users, store, nil, nil), store
}

func knownInstance() *mockInstances {
	return &mockInstances{
		resolveFn: func(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
			return testInstance, nil
		},
		findByDomainFn: func(ctx context.Context, domain string) (*model.Instance, error) {
			if domain == testInstance.Domain {
				return testInstance, nil
			}
			return nil, model.NewNotFoundError("find instance")
		},
	}
}

func okExchange(token string) *mockOAuth {
	return &mockOAuth{exchangeFn: func(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error) {
		return token, nil
	}}
}

// --- Begin ---

func TestBegin_ReturnsAuthorizeURL(t *testing.T) {
	var gotRedirect string
	instances := knownInstance()
	instances.resolveFn = func(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
		gotRedirect = redirectURI
		return testInstance, nil
	}
	svc, _ := newTestService(t, instances, okExchange("tok"), &mockUserRepo{})

	authURL, err := svc.Begin(context.Background(), "mastodon.example", testRedirectURI)

	require.NoError(t, err)
	assert.Equal(t, testRedirectURI, gotRedirect)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "mastodon.example", u.Host)
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, testRedirectURI, u.Query().Get("redirect_uri"))
}

func TestBegin_PropagatesRegistrationError(t *testing.T) {
	instances := knownInstance()
	instances.resolveFn = func(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
		return nil, model.NewRegistrationError("register app", "client_id missing")
	}
	svc, _ := newTestService(t, instances, okExchange("tok"), &mockUserRepo{})

	_, err := svc.Begin(context.Background(), "mastodon.example", testRedirectURI)

	assert.Equal(t, model.KindRegistration, model.KindOf(err))
}

func TestBegin_BannedInstance(t *testing.T) {
	until := time.Now().Add(time.Hour)
	banned := *testInstance
	banned.BannedUntil = &until
	instances := knownInstance()
	instances.resolveFn = func(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
		return &banned, nil
	}
	svc, _ := newTestService(t, instances, okExchange("tok"), &mockUserRepo{})

	_, err := svc.Begin(context.Background(), "mastodon.example", testRedirectURI)

	assert.Equal(t, model.KindBanned, model.KindOf(err))
}

// --- Callback ---

func TestCallback_CreatesUserAndIssuesSession(t *testing.T) {
	oauth := &mockOAuth{exchangeFn: func(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error) {
		assert.Equal(t, "https://mastodon.example/", base.String())
		assert.Equal(t, "cid", clientID)
		assert.Equal(t, "csecret", clientSecret)
		assert.Equal(t, testRedirectURI, redirectURI)
		assert.Equal(t, "the-code", code)
		return "access-tok", nil
	}}
	users := &mockUserRepo{}
	svc, store := newTestService(t, knownInstance(), oauth, users)

	token, err := svc.Callback(context.Background(), "mastodon.example", "the-code", testRedirectURI)

	require.NoError(t, err)
	require.Len(t, users.created, 1)
	created := users.created[0]
	assert.Equal(t, "instance-1", created.InstanceID)
	assert.Equal(t, "access-tok", created.AccessToken)

	userID, err := store.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, userID)
}

func TestCallback_EmptyCodeFailsBeforeExchange(t *testing.T) {
	oauth := okExchange("tok")
	users := &mockUserRepo{}
	svc, _ := newTestService(t, knownInstance(), oauth, users)

	_, err := svc.Callback(context.Background(), "mastodon.example", "", testRedirectURI)

	assert.Equal(t, model.KindInvalidPath, model.KindOf(err))
	assert.Equal(t, http.StatusNotFound, model.Describe(err).Status)
	assert.Equal(t, 0, oauth.exchangeCalls)
	assert.Empty(t, users.created)
}

func TestCallback_UnknownDomainIsNotFound(t *testing.T) {
	oauth := okExchange("tok")
	svc, _ := newTestService(t, knownInstance(), oauth, &mockUserRepo{})

	_, err := svc.Callback(context.Background(), "unknown.example", "code", testRedirectURI)

	assert.Equal(t, model.KindDatabase, model.KindOf(err))
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Equal(t, 0, oauth.exchangeCalls)
}

func TestCallback_TokenFailureCreatesNoUser(t *testing.T) {
	oauth := &mockOAuth{exchangeFn: func(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error) {
		return "", model.NewRemoteError("token", &model.RemoteError{Status: 400, Code: "invalid_grant", Description: "bad code"})
	}}
	users := &mockUserRepo{}
	svc, _ := newTestService(t, knownInstance(), oauth, users)

	_, err := svc.Callback(context.Background(), "mastodon.example", "bad", testRedirectURI)

	assert.Equal(t, model.KindRemote, model.KindOf(err))
	assert.Empty(t, users.created)
}

func TestCallback_EmptyAccessToken(t *testing.T) {
	users := &mockUserRepo{}
	svc, _ := newTestService(t, knownInstance(), okExchange(""), users)

	_, err := svc.Callback(context.Background(), "mastodon.example", "code", testRedirectURI)

	assert.Equal(t, model.KindHTTP, model.KindOf(err))
	assert.Empty(t, users.created)
}

func TestCallback_UserInsertFailure(t *testing.T) {
	users := &mockUserRepo{createFn: func(ctx context.Context, user *model.User) error {
		return errors.New("insert failed")
	}}
	svc, _ := newTestService(t, knownInstance(), okExchange("tok"), users)

	_, err := svc.Callback(context.Background(), "mastodon.example", "code", testRedirectURI)

	assert.Equal(t, model.KindDatabase, model.KindOf(err))
}

// --- Authenticate ---

func TestAuthenticate_ValidToken(t *testing.T) {
	users := &mockUserRepo{}
	svc, _ := newTestService(t, knownInstance(), okExchange("tok"), users)
	token, err := svc.Callback(context.Background(), "mastodon.example", "code", testRedirectURI)
	require.NoError(t, err)

	user, err := svc.Authenticate(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, users.created[0].ID, user.ID())
	assert.Equal(t, "tok", user.AccessToken())
	assert.Equal(t, "instance-1", user.InstanceID())
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	svc, _ := newTestService(t, knownInstance(), okExchange("tok"), &mockUserRepo{})

	_, err := svc.Authenticate(context.Background(), "garbage")

	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestAuthenticate_DeletedUserIsNotFound(t *testing.T) {
	svc, store := newTestService(t, knownInstance(), okExchange("tok"), &mockUserRepo{})
	token, _, err := store.Issue("missing-user")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)

	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestAuthenticate_BannedUser(t *testing.T) {
	until := time.Now().Add(time.Hour)
	users := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return &model.User{ID: id, InstanceID: "instance-1", AccessToken: "tok", BannedUntil: &until}, nil
	}}
	svc, store := newTestService(t, knownInstance(), okExchange("tok"), users)
	token, _, err := store.Issue("user-1")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)

	assert.Equal(t, model.KindBanned, model.KindOf(err))
}
