package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/fediurl/internal/config"
	"github.com/hitoshi/fediurl/internal/logger"
	"github.com/hitoshi/fediurl/internal/mastodon"
	"github.com/hitoshi/fediurl/internal/model"
	"github.com/hitoshi/fediurl/internal/resolver"
	"github.com/hitoshi/fediurl/internal/security"
)

// cliInstanceID はrewriteコマンドで使う仮のインスタンスID。保存はしない。
const cliInstanceID = "cli"

type rewriteOptions struct {
	instance string
	token    string
	url      string

	// httpClient はテスト用。nilの場合はSSRF対策済みのクライアントを使う。
	httpClient *http.Client
}

// staticInstance は1件のインスタンスだけを返すInstanceFinder。
type staticInstance struct {
	instance *model.Instance
}

func (s staticInstance) FindByID(_ context.Context, id string) (*model.Instance, error) {
	if id != s.instance.ID {
		return nil, model.NewNotFoundError("find instance")
	}
	return s.instance, nil
}

// runRewrite はURLを1件ホームインスタンスで検索し、書き換え先をoutに表示する。
// 一致がない場合は "No match" をerrOutに表示して正常終了する。
func runRewrite(ctx context.Context, in io.Reader, out, errOut io.Writer, opts rewriteOptions) error {
	cfg := config.LoadClient()

	token := opts.token
	if token == "" {
		token = cfg.AccessToken
	}
	if token == "" {
		return errors.New("access token is required: use --token or FEDIURL_ACCESS_TOKEN")
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.Setup(errOut, level)

	guard := security.NewGuard(cfg.HTTPAllowPrivate)
	domain, err := guard.ValidateDomain(opts.instance)
	if err != nil {
		return fmt.Errorf("invalid --instance: %w", err)
	}

	raw := opts.url
	if raw == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read URL from stdin: %w", err)
		}
		raw = strings.TrimSpace(line)
	}
	remote, err := security.ValidateRemoteURL(raw)
	if err != nil {
		return fmt.Errorf("URL %w", err)
	}

	httpClient := opts.httpClient
	if httpClient == nil {
		httpClient = guard.NewClient(cfg.HTTPClientTimeout)
	}
	client := mastodon.NewClient(mastodon.Config{
		HTTPClient: httpClient,
		Logger:     log,
		Revision:   cfg.Revision,
	})

	home := &model.Instance{ID: cliInstanceID, Domain: domain}
	user := &model.AuthenticatedUser{User: &model.User{InstanceID: cliInstanceID, AccessToken: token}}

	destination, err := resolver.New(staticInstance{home}, client, log, nil).Rewrite(ctx, user, remote.String())
	if err != nil {
		return fmt.Errorf("failed to rewrite URL: %s", model.Describe(err).Description)
	}
	if destination == nil {
		fmt.Fprintln(errOut, "No match")
		return nil
	}

	fmt.Fprintln(out, destination.String())
	return nil
}
