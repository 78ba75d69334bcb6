// Package auth はインスタンスに対するOAuthログインフローと、
// セッショントークンからの認証済みユーザーの構築を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fediurl/internal/metrics"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/repository"
)

// ErrUnauthenticated はセッショントークンが無い、または無効であることを示す。
var ErrUnauthenticated = errors.New("unauthenticated")

// InstanceResolver はドメインからインスタンスを解決する。
type InstanceResolver interface {
	Resolve(ctx context.Context, domain, redirectURI string) (*model.Instance, error)
	FindByDomain(ctx context.Context, domain string) (*model.Instance, error)
}

// OAuthClient はインスタンスのOAuthエンドポイントを扱う。
type OAuthClient interface {
	AuthorizeURL(base *url.URL, clientID, redirectURI string) string
	ExchangeCode(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error)
}

// TokenStore はセッショントークンを発行・検証する。
type TokenStore interface {
	Issue(userID string) (string, time.Time, error)
	Validate(token string) (string, error)
}

// Service はログインフロー（Begin → Callback）と認証を提供する。
// BeginとCallbackの間で状態は保存しない。
type Service struct {
	instances InstanceResolver
	oauth     OAuthClient
	users     repository.UserRepository
	tokens    TokenStore
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	instances InstanceResolver,
	oauth OAuthClient,
	users repository.UserRepository,
	tokens TokenStore,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		instances: instances,
		oauth:     oauth,
		users:     users,
		tokens:    tokens,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Begin はインスタンスを解決（必要なら登録）し、認可URLを返す。
// 失敗時にはレコードを作成しない。
func (s *Service) Begin(ctx context.Context, domain, redirectURI string) (string, error) {
	instance, err := s.instances.Resolve(ctx, domain, redirectURI)
	if err != nil {
		return "", err
	}
	if instance.IsBanned(s.now()) {
		return "", model.NewBannedError("begin login", *instance.BannedUntil)
	}
	return s.oauth.AuthorizeURL(instance.URL(), instance.ClientID, redirectURI), nil
}

// Callback は認可コードをアクセストークンに交換してユーザーを作成し、
// セッショントークンを返す。
//
// codeが空の場合はトークン交換を行う前にInvalidPathで失敗する。
// インスタンスは既に登録済みでなければならない（未登録ならnot found）。
func (s *Service) Callback(ctx context.Context, domain, code, redirectURI string) (string, error) {
	if code == "" {
		return "", model.NewInvalidPathError("callback")
	}

	instance, err := s.instances.FindByDomain(ctx, domain)
	if err != nil {
		return "", err
	}
	if instance.IsBanned(s.now()) {
		return "", model.NewBannedError("callback", *instance.BannedUntil)
	}

	accessToken, err := s.oauth.ExchangeCode(ctx, instance.URL(), instance.ClientID, instance.ClientSecret, redirectURI, code)
	if err != nil {
		s.recordLogin(false)
		s.logger.Warn("authorization code exchange failed",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	if accessToken == "" {
		s.recordLogin(false)
		return "", model.NewHTTPError("exchange code", errors.New("token response has empty access_token"))
	}

	now := s.now().UTC()
	user := &model.User{
		ID:          uuid.NewString(),
		InstanceID:  instance.ID,
		AccessToken: accessToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		s.recordLogin(false)
		return "", model.NewDatabaseError("create user", err)
	}

	token, _, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.recordLogin(false)
		return "", fmt.Errorf("failed to issue session: %w", err)
	}

	s.recordLogin(true)
	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("domain", domain),
	)
	return token, nil
}

// Authenticate はセッショントークンを検証してusersテーブルを参照し、
// 認証済みユーザーを構築する。
// トークンが無効ならErrUnauthenticated、ユーザーが存在しなければnot foundを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.AuthenticatedUser, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewDatabaseError("find user", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("find user")
	}
	if user.IsBanned(s.now()) {
		return nil, model.NewBannedError("authenticate", *user.BannedUntil)
	}

	return &model.AuthenticatedUser{User: user}, nil
}

func (s *Service) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}
