// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/fediurl/internal/model"
)

// ErrDuplicateDomain は同じdomainのインスタンスが既に存在する場合に返される。
// instances.domainのユニーク制約違反を表す。
var ErrDuplicateDomain = errors.New("instance domain already exists")

// InstanceRepository はインスタンスデータの永続化インターフェース。
type InstanceRepository interface {
	// FindByID は指定IDのインスタンスを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Instance, error)

	// FindByDomain はdomainでインスタンスを検索する。見つからない場合はnilを返す。
	FindByDomain(ctx context.Context, domain string) (*model.Instance, error)

	// Create はインスタンスを作成する。
	// domainが既に存在する場合はErrDuplicateDomainを返す。
	Create(ctx context.Context, instance *model.Instance) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}
