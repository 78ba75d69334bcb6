package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fediurl/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var bannedUntil sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, instance_id, access_token, banned_until, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.InstanceID, &user.AccessToken, &bannedUntil, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.BannedUntil = nullTimePtr(bannedUntil)
	return user, nil
}

// Create はユーザーを作成する。
// instance_idは外部キー制約により既存のインスタンスを指す必要がある。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, instance_id, access_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.InstanceID, user.AccessToken, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
