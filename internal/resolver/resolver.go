// Package resolver はリモートインスタンスのURLを、ユーザーのホームインスタンス上の
// 同じリソースのURLへ書き換える。
package resolver

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/fediurl/internal/mastodon"
	"github.com/hitoshi/fediurl/internal/metrics"
	"github.com/hitoshi/fediurl/internal/model"
)

// InstanceFinder はIDでインスタンスを取得する。
type InstanceFinder interface {
	FindByID(ctx context.Context, id string) (*model.Instance, error)
}

// Searcher はホームインスタンスの検索APIを呼び出す。
type Searcher interface {
	Search(ctx context.Context, base *url.URL, accessToken, query string) (*mastodon.SearchResult, error)
}

// Resolver は検索APIの結果から書き換え先URLを決定する。
type Resolver struct {
	instances InstanceFinder
	searcher  Searcher
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// New はResolverを生成する。metricsはnilでもよい。
func New(instances InstanceFinder, searcher Searcher, logger *slog.Logger, m metrics.MetricsCollector) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		instances: instances,
		searcher:  searcher,
		logger:    logger,
		metrics:   m,
	}
}

// Rewrite はremoteURLをユーザーのホームインスタンスで検索し、書き換え先を返す。
// 一致がない場合は (nil, nil) を返す。リモートのエラー応答はRemoteErrorとして返し、
// 一致なしとは区別する。
func (r *Resolver) Rewrite(ctx context.Context, user *model.AuthenticatedUser, remoteURL string) (*url.URL, error) {
	instance, err := r.instances.FindByID(ctx, user.InstanceID())
	if err != nil {
		r.record(metrics.OutcomeError)
		return nil, err
	}

	result, err := r.searcher.Search(ctx, instance.URL(), user.AccessToken(), remoteURL)
	if err != nil {
		r.record(metrics.OutcomeError)
		r.logger.Warn("search on home instance failed",
			slog.String("user_id", user.ID()),
			slog.String("domain", instance.Domain),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	destination := Pick(instance.URL(), result)
	if destination == nil {
		r.record(metrics.OutcomeNoMatch)
		return nil, nil
	}
	r.record(metrics.OutcomeRedirect)
	return destination, nil
}

// Pick は検索結果から書き換え先を選ぶ。
//  1. 投稿があれば先頭の投稿: {instance}/@{acct}/{status_id}
//  2. なければ先頭のアカウント: {instance}/@{acct}
//  3. どちらもなければnil
func Pick(base *url.URL, result *mastodon.SearchResult) *url.URL {
	if result == nil {
		return nil
	}
	if len(result.Statuses) > 0 {
		status := result.Statuses[0]
		return appendSegments(base, "@"+status.Account.Acct, status.ID)
	}
	if len(result.Accounts) > 0 {
		return appendSegments(base, "@"+result.Accounts[0].Acct)
	}
	return nil
}

// appendSegments はbaseのパス末尾に各値を1つのパスセグメントとして追加する。
// 値に含まれる"/"や"."だけのセグメントはパーセントエンコードされ、パスを移動しない。
func appendSegments(base *url.URL, segments ...string) *url.URL {
	u := *base
	path := strings.TrimSuffix(u.Path, "/")
	raw := strings.TrimSuffix(u.EscapedPath(), "/")
	for _, segment := range segments {
		path += "/" + segment
		raw += "/" + escapeSegment(segment)
	}
	u.Path = path
	u.RawPath = raw
	return &u
}

func escapeSegment(segment string) string {
	switch segment {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(segment)
}

func (r *Resolver) record(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRewrite(outcome)
	}
}
