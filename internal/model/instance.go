// Package model はドメインモデルを定義する。
package model

import (
	"net/url"
	"time"
)

// Instance はOAuthで認証できる連合ネットワーク上のサーバー（Mastodon互換インスタンス）を表す。
// domainはストレージ層のユニーク制約により一意となる。
// client_id / client_secret は作成後に変更されない。
type Instance struct {
	ID           string
	Domain       string
	ClientID     string
	ClientSecret string
	BannedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// URL はインスタンスのベースURL（https://{domain}）を返す。
func (i *Instance) URL() *url.URL {
	return &url.URL{Scheme: "https", Host: i.Domain, Path: "/"}
}

// IsBanned は指定時刻においてインスタンスが利用停止中かどうかを返す。
func (i *Instance) IsBanned(now time.Time) bool {
	return i.BannedUntil != nil && now.Before(*i.BannedUntil)
}
