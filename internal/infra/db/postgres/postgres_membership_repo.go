package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/repository"
)

// Ensure membershipRepo implements repository.MembershipRepository
var _ repository.MembershipRepository = (*membershipRepo)(nil)

type membershipRepo struct {
	pool *pgxpool.Pool
}

func NewMembershipRepo(pool *pgxpool.Pool) *membershipRepo {
	return &membershipRepo{pool: pool}
}

// Save rewrites the derived tier fields but leaves points alone: points are
// credited only through AddPoints so a rebuild can never clobber a balance.
func (r *membershipRepo) Save(ctx context.Context, tx repository.Tx, m *model.Membership) error {
	const q = `
INSERT INTO memberships (user_id, level_code, level_weight, points, expires_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id) DO UPDATE SET
  level_code=$2, level_weight=$3, expires_at=$5, updated_at=$6;`

	_, err := execSQL(ctx, r.pool, tx, q, m.UserID, m.LevelCode, m.LevelWeight, m.Points, m.ExpiresAt, m.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *membershipRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	const q = `
SELECT user_id, level_code, level_weight, points, expires_at, updated_at
  FROM memberships
 WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}

	m := &model.Membership{}
	if err := row.Scan(&m.UserID, &m.LevelCode, &m.LevelWeight, &m.Points, &m.ExpiresAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return m, nil
}

func (r *membershipRepo) SumPoints(ctx context.Context, tx repository.Tx) (int64, error) {
	const q = `SELECT COALESCE(SUM(points), 0) FROM memberships;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return total, nil
}

func (r *membershipRepo) AddPoints(ctx context.Context, tx repository.Tx, userID string, amount int) error {
	const q = `
INSERT INTO memberships (user_id, level_code, level_weight, points, updated_at)
VALUES ($1,'',0,$2,NOW())
ON CONFLICT (user_id) DO UPDATE SET
  points = memberships.points + $2, updated_at = NOW();`

	_, err := execSQL(ctx, r.pool, tx, q, userID, amount)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}
