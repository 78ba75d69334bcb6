// Package instance はドメインからインスタンスレコードを解決するレジストリを提供する。
// 未登録のドメインにはリモートインスタンスへOAuthアプリを登録してから保存する。
package instance

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/fediurl/internal/mastodon"
	"github.com/hitoshi/fediurl/internal/metrics"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/repository"
)

// AppRegistrar はリモートインスタンスへのOAuthアプリ登録を行う。
type AppRegistrar interface {
	RegisterApp(ctx context.Context, base *url.URL, redirectURI string) (*mastodon.App, error)
}

// Registry はドメインからインスタンスを解決する。
// 同一ドメインの行はストレージのユニーク制約により常に1件となる。
type Registry struct {
	repo      repository.InstanceRepository
	registrar AppRegistrar
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time

	// registrations は同一プロセス内の同時登録を1回のアプリ登録にまとめる。
	registrations singleflight.Group
}

// NewRegistry はRegistryを生成する。metricsはnilでもよい。
func NewRegistry(repo repository.InstanceRepository, registrar AppRegistrar, logger *slog.Logger, m metrics.MetricsCollector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:      repo,
		registrar: registrar,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Resolve はdomainのインスタンスを返す。存在しなければアプリを登録して作成する。
// domainは検証済みのホストであること。
//
// 同一プロセス内の同時初回ログインは1回のアプリ登録を共有する。
// 呼び出し元のctxがキャンセルされるとその呼び出しだけがctx.Err()で戻り、登録自体は続く。
// 別プロセスとの競合で挿入がユニーク制約違反になった場合は、
// 自分の登録結果を捨てて先に挿入された行を読み直して返す。
func (r *Registry) Resolve(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
	existing, err := r.repo.FindByDomain(ctx, domain)
	if err != nil {
		return nil, model.NewDatabaseError("find instance", err)
	}
	if existing != nil {
		return existing, nil
	}

	// 共有される登録は呼び出し元のキャンセルの影響を受けない。
	// 所要時間はHTTPクライアントのタイムアウトで制限される。
	flight := context.WithoutCancel(ctx)
	ch := r.registrations.DoChan(domain+"\x00"+redirectURI, func() (any, error) {
		return r.register(flight, domain, redirectURI)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// register はアプリを登録してインスタンスを保存する。
// 先行するフライトが保存済みの場合は登録せずにその行を返す。
func (r *Registry) register(ctx context.Context, domain, redirectURI string) (*model.Instance, error) {
	existing, err := r.repo.FindByDomain(ctx, domain)
	if err != nil {
		return nil, model.NewDatabaseError("find instance", err)
	}
	if existing != nil {
		return existing, nil
	}

	candidate := &model.Instance{Domain: domain}
	app, err := r.registrar.RegisterApp(ctx, candidate.URL(), redirectURI)
	if err != nil {
		return nil, err
	}
	if app.ClientID == "" {
		return nil, model.NewRegistrationError("register app", "client_id missing from app registration response")
	}
	if app.ClientSecret == "" {
		return nil, model.NewRegistrationError("register app", "client_secret missing from app registration response")
	}

	now := r.now().UTC()
	candidate.ID = uuid.NewString()
	candidate.ClientID = app.ClientID
	candidate.ClientSecret = app.ClientSecret
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	err = r.repo.Create(ctx, candidate)
	if errors.Is(err, repository.ErrDuplicateDomain) {
		r.logger.Warn("instance was registered concurrently, discarding own app registration",
			slog.String("domain", domain),
		)
		winner, err := r.repo.FindByDomain(ctx, domain)
		if err != nil {
			return nil, model.NewDatabaseError("reload instance", err)
		}
		if winner == nil {
			return nil, model.NewNotFoundError("reload instance")
		}
		return winner, nil
	}
	if err != nil {
		return nil, model.NewDatabaseError("create instance", err)
	}

	if r.metrics != nil {
		r.metrics.RecordInstanceRegistered()
	}
	r.logger.Info("instance registered",
		slog.String("domain", domain),
		slog.String("instance_id", candidate.ID),
	)
	return candidate, nil
}

// FindByDomain は登録済みのインスタンスを返す。存在しない場合はnot foundのデータベースエラー。
func (r *Registry) FindByDomain(ctx context.Context, domain string) (*model.Instance, error) {
	instance, err := r.repo.FindByDomain(ctx, domain)
	if err != nil {
		return nil, model.NewDatabaseError("find instance", err)
	}
	if instance == nil {
		return nil, model.NewNotFoundError("find instance")
	}
	return instance, nil
}

// FindByID はIDでインスタンスを返す。存在しない場合はnot foundのデータベースエラー。
func (r *Registry) FindByID(ctx context.Context, id string) (*model.Instance, error) {
	instance, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewDatabaseError("find instance", err)
	}
	if instance == nil {
		return nil, model.NewNotFoundError("find instance")
	}
	return instance, nil
}
