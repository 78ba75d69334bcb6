// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証済みエンドユーザーを表す。
// ホームインスタンスとアクセストークンの組で識別される。
type User struct {
	ID          string
	InstanceID  string
	AccessToken string
	BannedUntil *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuthenticatedUser はセッショントークンの検証とusersテーブルの参照を経て
// 構築される認証済みユーザーのコンテキスト。
// リクエストごとに一度だけ構築し、各操作へ明示的に渡す。
type AuthenticatedUser struct {
	User *User
}

// ID はユーザーIDを返す。
func (u *AuthenticatedUser) ID() string {
	return u.User.ID
}

// AccessToken はホームインスタンスが発行したアクセストークンを返す。
func (u *AuthenticatedUser) AccessToken() string {
	return u.User.AccessToken
}

// InstanceID はホームインスタンスのIDを返す。
func (u *AuthenticatedUser) InstanceID() string {
	return u.User.InstanceID
}

// IsBanned は指定時刻においてユーザーが利用停止中かどうかを返す。
func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && now.Before(*u.BannedUntil)
}
