package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/fediurl/internal/model"
)

// uniqueViolation はPostgreSQLのユニーク制約違反のSQLSTATE。
const uniqueViolation pq.ErrorCode = "23505"

// PostgresInstanceRepo はPostgreSQLを使用したインスタンスリポジトリ。
type PostgresInstanceRepo struct {
	db *sql.DB
}

// NewPostgresInstanceRepo はPostgresInstanceRepoを生成する。
func NewPostgresInstanceRepo(db *sql.DB) *PostgresInstanceRepo {
	return &PostgresInstanceRepo{db: db}
}

const instanceColumns = `id, domain, client_id, client_secret, banned_until, created_at, updated_at`

// FindByID は指定IDのインスタンスを取得する。見つからない場合はnilを返す。
func (r *PostgresInstanceRepo) FindByID(ctx context.Context, id string) (*model.Instance, error) {
	instance, err := r.findOne(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find instance by ID: %w", err)
	}
	return instance, nil
}

// FindByDomain はdomainでインスタンスを検索する。見つからない場合はnilを返す。
// domainの比較は大文字小文字を区別する。
func (r *PostgresInstanceRepo) FindByDomain(ctx context.Context, domain string) (*model.Instance, error) {
	instance, err := r.findOne(ctx, `SELECT `+instanceColumns+` FROM instances WHERE domain = $1`, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to find instance by domain: %w", err)
	}
	return instance, nil
}

// Create はインスタンスを作成する。
// ユニーク制約違反の場合はErrDuplicateDomainを返す。
func (r *PostgresInstanceRepo) Create(ctx context.Context, instance *model.Instance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO instances (id, domain, client_id, client_secret, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		instance.ID, instance.Domain, instance.ClientID, instance.ClientSecret,
		instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDomain
		}
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

func (r *PostgresInstanceRepo) findOne(ctx context.Context, query string, arg any) (*model.Instance, error) {
	instance := &model.Instance{}
	var bannedUntil sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&instance.ID, &instance.Domain, &instance.ClientID, &instance.ClientSecret,
		&bannedUntil, &instance.CreatedAt, &instance.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	instance.BannedUntil = nullTimePtr(bannedUntil)
	return instance, nil
}

// isUniqueViolation はエラーがユニーク制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ InstanceRepository = (*PostgresInstanceRepo)(nil)
