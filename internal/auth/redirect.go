package auth

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrHostNotAllowed はリクエストのHostが許可リストに含まれない場合に返される。
var ErrHostNotAllowed = errors.New("request host is not allowed")

// RedirectURI はOAuthのredirect_uriを導出する純粋関数。
// 認可リクエストとトークン交換で完全に同じ値を使う必要があるため、保存せず毎回
// (host, X-Forwarded-Proto, domain) から決定的に組み立てる。
//
// スキームはX-Forwarded-Protoの先頭の値（http/httpsのみ）で、未指定ならhttp。
// allowedHostsが空でない場合、hostはそのいずれかと一致しなければならない。
func RedirectURI(host, forwardedProto, domain string, allowedHosts []string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrHostNotAllowed)
	}
	if len(allowedHosts) > 0 && !hostAllowed(host, allowedHosts) {
		return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	if domain == "" {
		return "", errors.New("domain is empty")
	}

	u := url.URL{
		Scheme: Scheme(forwardedProto),
		Host:   host,
		Path:   "/auth/" + domain,
	}
	return u.String(), nil
}

// Scheme はX-Forwarded-Protoの値からリクエストのスキームを返す。
func Scheme(forwardedProto string) string {
	first, _, _ := strings.Cut(forwardedProto, ",")
	if strings.EqualFold(strings.TrimSpace(first), "https") {
		return "https"
	}
	return "http"
}

// IsSecure はリクエストが暗号化された経路で届いたかどうかを返す。
func IsSecure(forwardedProto string) bool {
	return Scheme(forwardedProto) == "https"
}

// hostAllowed はhost（ポート付き可）が許可リストに含まれるかを判定する。
// 許可リストのエントリにポートがない場合はホスト名のみで比較する。
func hostAllowed(host string, allowedHosts []string) bool {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == host {
			return true
		}
		if !strings.Contains(allowed, ":") && allowed == hostname {
			return true
		}
	}
	return false
}
