// Package mastodon はMastodon互換インスタンスのAPIクライアントを提供する。
// アプリ登録、OAuth認可URLの構築、認可コードの交換、検索APIの呼び出しを含む。
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/fediurl/internal/metrics"
	"github.com/hitoshi/fediurl/internal/model"
)

const (
	// Scopes はアプリ登録と認可で要求するOAuthスコープ。検索のみ。
	Scopes = "read:search"
	// ClientName はアプリ登録時のアプリケーション名。
	ClientName = "Fediurl"
	// Website はアプリ登録時に送るWebサイトURL。
	Website = "https://fediurl.7bit.org/"

	// maxResponseSize はリモートレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 1 << 20

	// fallbackDescription は構造化されていないエラーボディの代わりに返す説明。
	fallbackDescription = "Request to instance was unsuccessful."
)

// エンドポイント名（ログ・メトリクスのラベル）。
const (
	endpointApps   = "apps"
	endpointToken  = "token"
	endpointSearch = "search"
)

// Config はClientの設定。
type Config struct {
	// HTTPClient はリモートインスタンス呼び出しに使うクライアント（SSRF対策済みのもの）。
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Revision はUser-Agentに含めるリビジョン。
	Revision string
	// Metrics はnilの場合は記録しない。
	Metrics metrics.MetricsCollector
}

// Client はMastodon互換インスタンスのAPIクライアント。
// インスタンスごとの状態は持たず、呼び出しごとにベースURLを受け取る。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewClient はClientを生成する。
// 渡されたHTTPクライアントのTransportをラップしてUser-Agentを付与する。
func NewClient(cfg Config) *Client {
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	revision := cfg.Revision
	if revision == "" {
		revision = "dev"
	}

	httpClient := *base
	httpClient.Transport = &userAgentTransport{
		base:      base.Transport,
		userAgent: "Fediurl/" + revision + " (+" + Website + ")",
	}

	return &Client{
		httpClient: &httpClient,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
}

// App はアプリ登録APIのレスポンス。
// client_id / client_secret はリモートが省略する場合がある。
type App struct {
	Name         string `json:"name"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Account は検索結果のアカウント。
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
}

// Status は検索結果の投稿。
type Status struct {
	ID      string  `json:"id"`
	Account Account `json:"account"`
}

// SearchResult は検索APIのレスポンス。hashtagsは使用しないため読み捨てる。
type SearchResult struct {
	Accounts []Account `json:"accounts"`
	Statuses []Status  `json:"statuses"`
}

// RegisterApp はインスタンスにOAuthアプリケーションを登録する。
func (c *Client) RegisterApp(ctx context.Context, base *url.URL, redirectURI string) (*App, error) {
	endpoint := base.JoinPath("api", "v1", "apps")

	form := url.Values{
		"client_name":   {ClientName},
		"redirect_uris": {redirectURI},
		"scopes":        {Scopes},
		"website":       {Website},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, model.NewURLError("register app", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var app App
	if err := c.do(req, endpointApps, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// oauthConfig はインスタンスのOAuthエンドポイント設定を生成する。
// client_id / client_secret はリクエストパラメータとして送る。
func oauthConfig(base *url.URL, clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{Scopes},
		Endpoint: oauth2.Endpoint{
			AuthURL:   base.JoinPath("oauth", "authorize").String(),
			TokenURL:  base.JoinPath("oauth", "token").String(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizeURL はユーザーをリダイレクトさせる認可URLを返す。
// stateはリモートインスタンス側の扱いに委ねるため付与しない。
func (c *Client) AuthorizeURL(base *url.URL, clientID, redirectURI string) string {
	return oauthConfig(base, clientID, "", redirectURI).AuthCodeURL("")
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// redirectURIは認可時と完全に一致している必要がある。
func (c *Client) ExchangeCode(ctx context.Context, base *url.URL, clientID, clientSecret, redirectURI, code string) (string, error) {
	cfg := oauthConfig(base, clientID, clientSecret, redirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	token, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("scope", Scopes))
	duration := time.Since(start)

	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			status := retrieveErr.Response.StatusCode
			c.observe(base, endpointToken, status, duration)
			return "", model.NewRemoteError("exchange code", remoteError(status, retrieveErr.Body))
		}
		c.observe(base, endpointToken, 0, duration)
		return "", model.NewHTTPError("exchange code", err)
	}

	c.observe(base, endpointToken, http.StatusOK, duration)
	return token.AccessToken, nil
}

// Search はアクセストークンで認証して検索APIを呼び出す。
// resolve=trueにより未知のURLもリモートインスタンス側で解決を試みる。
func (c *Client) Search(ctx context.Context, base *url.URL, accessToken, query string) (*SearchResult, error) {
	endpoint := base.JoinPath("api", "v2", "search")
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("resolve", "true")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, model.NewURLError("search", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var result SearchResult
	if err := c.do(req, endpointSearch, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do はリクエストを送信し、2xxならvへデコードする。
// 2xx以外はリモートのエラーボディをRemoteErrorとして返す。
func (c *Client) do(req *http.Request, endpoint string, v any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.observe(req.URL, endpoint, 0, duration)
		c.logger.Error("remote instance request failed",
			slog.String("domain", req.URL.Host),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewHTTPError(endpoint, err)
	}
	defer resp.Body.Close()

	c.observe(req.URL, endpoint, resp.StatusCode, duration)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return model.NewHTTPError(endpoint, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.NewRemoteError(endpoint, remoteError(resp.StatusCode, body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return model.NewHTTPError(endpoint, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// remoteError はエラーボディを解釈する。errorとerror_descriptionは加工せずそのまま保持する。
// どちらかのフィールドが欠けている、またはJSONでない場合は
// ステータスのみを保持した汎用のエラーにする。
func remoteError(status int, body []byte) *model.RemoteError {
	var payload struct {
		Error            *string `json:"error"`
		ErrorDescription *string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil && payload.ErrorDescription != nil {
		return &model.RemoteError{
			Status:      status,
			Code:        *payload.Error,
			Description: *payload.ErrorDescription,
		}
	}
	return &model.RemoteError{
		Status:      status,
		Code:        model.KindHTTP.String(),
		Description: fallbackDescription,
	}
}

// observe はリモート呼び出しの結果をログとメトリクスに記録する。
func (c *Client) observe(u *url.URL, endpoint string, status int, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordRemoteCall(endpoint, status, duration)
	}
	c.logger.Info("remote instance call",
		slog.String("domain", u.Host),
		slog.String("endpoint", endpoint),
		slog.Int("status", status),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
}

// userAgentTransport はすべてのリクエストにUser-Agentを付与する。
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return base.RoundTrip(req)
}
