// Package security はリモートインスタンスへの通信と入力値の安全性を扱う。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/net/idna"
)

// blockedNetworks はリモートインスタンスとして受け付けないネットワーク範囲。
// safeurlは接続時にDNS解決後のIPアドレスも検証するため、ここでの判定は
// ドメイン入力時の静的チェックに限られる。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// domainProfile はインスタンスドメインの正規化に使うIDNAプロファイル。
// 国際化ドメインはPunycodeに変換され、大文字は小文字に揃えられる。
var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.ValidateLabels(true),
	idna.StrictDomainName(true),
)

// ErrInvalidDomain はインスタンスドメインとして受け付けられない入力を表す。
var ErrInvalidDomain = errors.New("instance is not valid")

// Guard はリモートインスタンスへの外向き通信のSSRF対策を提供する。
// allowPrivateが真の場合はローカル開発向けにプライベートアドレスを許可する。
type Guard struct {
	allowPrivate bool
}

// NewGuard はGuardを生成する。
func NewGuard(allowPrivate bool) *Guard {
	return &Guard{allowPrivate: allowPrivate}
}

// NewClient はリモートインスタンス呼び出し用のHTTPクライアントを生成する。
// 通常はsafeurlによりhttps:443以外とプライベートIP、ループバック、
// リンクローカル、メタデータIPへの接続がブロックされる。
func (g *Guard) NewClient(timeout time.Duration) *http.Client {
	if g.allowPrivate {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateDomain はログインフォームで入力されたインスタンスドメインを検証し、
// 正規化したホスト（ポート付きの場合はhost:port）を返す。
// スキームやパス、ユーザー情報を含む入力は拒否する。
func (g *Guard) ValidateDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if strings.ContainsAny(raw, "/?#@\\ ") {
		return "", fmt.Errorf("%w: %q is not a bare host", ErrInvalidDomain, raw)
	}

	host, port := raw, ""
	if h, p, err := net.SplitHostPort(raw); err == nil {
		host, port = h, p
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: invalid port %q", ErrInvalidDomain, port)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if !g.allowPrivate && isBlockedIP(ip) {
			return "", fmt.Errorf("%w: blocked IP address %s", ErrInvalidDomain, ip)
		}
		return joinHostPort(ip.String(), port), nil
	}

	ascii, err := domainProfile.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if !g.allowPrivate && (ascii == "localhost" || strings.HasSuffix(ascii, ".localhost")) {
		return "", fmt.Errorf("%w: blocked host %s", ErrInvalidDomain, ascii)
	}
	if !g.allowPrivate && !strings.Contains(ascii, ".") {
		return "", fmt.Errorf("%w: %s is not a fully qualified domain", ErrInvalidDomain, ascii)
	}

	return joinHostPort(ascii, port), nil
}

// ValidateRemoteURL は書き換え対象のリモートURLが http(s) の絶対URLであることを検証する。
func ValidateRemoteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("is not a valid URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("is incomplete: %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https: %q", u.Scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("host is missing: %q", raw)
	}
	return u, nil
}

func joinHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
