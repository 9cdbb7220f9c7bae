package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/repository"
)

// Ensure entitlementRepo implements repository.EntitlementRepository
var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool}
}

const entitlementColumns = `
  id, external_ref, user_id, origin_order_id, kind, level_code, level_weight,
  points_amount, status, expires_at, cycle_days, is_compensation, origin,
  auto_renew, auto_renew_source_id, contract_id, prev_id, next_id, queue_pos,
  benefits_granted, cancel_reason, cancelled_at, created_at, version`

// Save writes the entitlement with optimistic concurrency: the update applies
// only when the stored version equals e.Version, and the stored version is
// bumped. Zero rows affected means another writer got there first.
func (r *entitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	const q = `
INSERT INTO entitlements (
  id, external_ref, user_id, origin_order_id, kind, level_code, level_weight,
  points_amount, status, expires_at, cycle_days, is_compensation, origin,
  auto_renew, auto_renew_source_id, contract_id, prev_id, next_id, queue_pos,
  benefits_granted, cancel_reason, cancelled_at, created_at, version, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24+1,NOW())
ON CONFLICT (id) DO UPDATE SET
  external_ref=$2, origin_order_id=$4, level_code=$6, level_weight=$7,
  points_amount=$8, status=$9, expires_at=$10, cycle_days=$11, origin=$13,
  auto_renew=$14, auto_renew_source_id=$15, contract_id=$16, prev_id=$17,
  next_id=$18, queue_pos=$19, benefits_granted=$20, cancel_reason=$21,
  cancelled_at=$22, version=$24+1, updated_at=NOW()
WHERE entitlements.version = $24;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		e.ID, nullStr(e.ExternalRef), e.UserID, nullStr(e.OriginOrderID),
		string(e.Kind), e.LevelCode, e.LevelWeight, e.PointsAmount,
		string(e.Status), e.ExpiresAt, e.CycleDays, e.IsCompensation,
		string(e.Origin), e.AutoRenew, e.AutoRenewSourceID, e.ContractID,
		e.PrevID, e.NextID, e.QueuePos, e.BenefitsGranted,
		e.CancelReason, e.CancelledAt, e.CreatedAt, e.Version,
	)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// external_ref uniqueness raced with a replayed order.
				return domain.ErrVersionConflict
			}
			return domain.ErrOperationFailed
		}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	e.Version++
	return nil
}

func (r *entitlementRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error) {
	const q = `SELECT ` + entitlementColumns + ` FROM entitlements WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *entitlementRepo) FindByExternalRef(ctx context.Context, tx repository.Tx, ref string) (*model.Entitlement, error) {
	const q = `SELECT ` + entitlementColumns + ` FROM entitlements WHERE external_ref=$1;`
	return r.queryOne(ctx, tx, q, ref)
}

func (r *entitlementRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE user_id=$1 AND kind='recurring_tier' AND status='active'
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID)
}

func (r *entitlementRepo) FindPendingByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE user_id=$1 AND kind='recurring_tier' AND status='pending'
 ORDER BY queue_pos ASC, created_at ASC;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *entitlementRepo) FindPausedByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE user_id=$1 AND kind='recurring_tier' AND status='paused'
 ORDER BY created_at ASC;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *entitlementRepo) FindAllLiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE user_id=$1 AND kind='recurring_tier' AND status IN ('active','pending','paused')
 ORDER BY queue_pos ASC, created_at ASC;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *entitlementRepo) FindActiveRenewableByContract(ctx context.Context, tx repository.Tx, contractID string) (*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE contract_id=$1 AND status='active' AND auto_renew
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, contractID)
}

func (r *entitlementRepo) FindExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE status='active' AND expires_at <= $1
 ORDER BY expires_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *entitlementRepo) FindStuckPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements e
 WHERE e.kind='recurring_tier' AND e.status='pending' AND e.queue_pos=1
   AND NOT EXISTS (
     SELECT 1 FROM entitlements a
      WHERE a.user_id=e.user_id AND a.kind='recurring_tier' AND a.status='active'
   )
 ORDER BY e.created_at ASC
 LIMIT $1;`
	return r.queryMany(ctx, tx, q, limit)
}

func (r *entitlementRepo) FindRenewalCandidates(ctx context.Context, tx repository.Tx, windowDays int, limit int) ([]*model.Entitlement, error) {
	const q = `
SELECT ` + entitlementColumns + `
  FROM entitlements
 WHERE status='active' AND auto_renew AND contract_id IS NOT NULL
   AND expires_at <= NOW() + ($1::int * INTERVAL '1 day')
 ORDER BY expires_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, windowDays, limit)
}

func (r *entitlementRepo) ListRecentlyTouchedUsers(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]string, error) {
	const q = `
SELECT DISTINCT user_id
  FROM entitlements
 WHERE updated_at >= $1
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, since, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *entitlementRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.EntitlementStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM entitlements GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.EntitlementStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.EntitlementStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *entitlementRepo) CountActiveByLevel(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	const q = `
SELECT level_code, COUNT(*)
  FROM entitlements
 WHERE status='active'
 GROUP BY level_code;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *entitlementRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) (*model.Entitlement, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanEntitlement(row)
}

func (r *entitlementRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) ([]*model.Entitlement, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case pgx.ErrNoRows:
			return nil, domain.ErrNotFound
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()
	var out []*model.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	e := &model.Entitlement{}
	var kind, status, origin string
	var externalRef, originOrderID *string
	if err := row.Scan(
		&e.ID, &externalRef, &e.UserID, &originOrderID, &kind, &e.LevelCode,
		&e.LevelWeight, &e.PointsAmount, &status, &e.ExpiresAt, &e.CycleDays,
		&e.IsCompensation, &origin, &e.AutoRenew, &e.AutoRenewSourceID,
		&e.ContractID, &e.PrevID, &e.NextID, &e.QueuePos, &e.BenefitsGranted,
		&e.CancelReason, &e.CancelledAt, &e.CreatedAt, &e.Version,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	e.Kind = model.EntitlementKind(kind)
	e.Status = model.EntitlementStatus(status)
	e.Origin = model.EntitlementOrigin(origin)
	if externalRef != nil {
		e.ExternalRef = *externalRef
	}
	if originOrderID != nil {
		e.OriginOrderID = *originOrderID
	}
	return e, nil
}

// nullStr maps "" to NULL so partial unique indexes on optional refs hold.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
