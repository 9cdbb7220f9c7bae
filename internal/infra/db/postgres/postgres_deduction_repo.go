package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/repository"
)

// Ensure deductionRepo implements repository.DeductionRepository
var _ repository.DeductionRepository = (*deductionRepo)(nil)

type deductionRepo struct {
	pool *pgxpool.Pool
}

func NewDeductionRepo(pool *pgxpool.Pool) *deductionRepo {
	return &deductionRepo{pool: pool}
}

const deductionColumns = `
  id, contract_id, entitlement_id, amount, status, retry_count, next_retry_at,
  fail_code, fail_reason, transaction_id, created_at, updated_at`

func (r *deductionRepo) Save(ctx context.Context, tx repository.Tx, d *model.DeductionAttempt) error {
	const q = `
INSERT INTO deduction_attempts (
  id, contract_id, entitlement_id, amount, status, retry_count, next_retry_at,
  fail_code, fail_reason, transaction_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  status=$5, retry_count=$6, next_retry_at=$7, fail_code=$8, fail_reason=$9,
  transaction_id=$10, updated_at=$12;`

	_, err := execSQL(ctx, r.pool, tx, q,
		d.ID, d.ContractID, d.EntitlementID, d.Amount, string(d.Status),
		d.RetryCount, d.NextRetryAt, nullStr(d.FailCode), nullStr(d.FailReason),
		nullStr(d.TransactionID), d.CreatedAt, d.UpdatedAt,
	)
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

func (r *deductionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DeductionAttempt, error) {
	const q = `SELECT ` + deductionColumns + ` FROM deduction_attempts WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanDeduction(row)
}

func (r *deductionRepo) FindOpenByContract(ctx context.Context, tx repository.Tx, contractID string) (*model.DeductionAttempt, error) {
	const q = `
SELECT ` + deductionColumns + `
  FROM deduction_attempts
 WHERE contract_id=$1 AND status IN ('pending','failed')
 ORDER BY created_at DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, contractID)
	if err != nil {
		return nil, err
	}
	return scanDeduction(row)
}

func (r *deductionRepo) FindDueRetries(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.DeductionAttempt, error) {
	const q = `
SELECT ` + deductionColumns + `
  FROM deduction_attempts
 WHERE status='failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
 ORDER BY next_retry_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *deductionRepo) FindStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.DeductionAttempt, error) {
	const q = `
SELECT ` + deductionColumns + `
  FROM deduction_attempts
 WHERE status='pending' AND updated_at < $1
 ORDER BY updated_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, olderThan, limit)
}

func (r *deductionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) ([]*model.DeductionAttempt, error) {
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
	var out []*model.DeductionAttempt
	for rows.Next() {
		d, err := scanDeduction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanDeduction(row pgx.Row) (*model.DeductionAttempt, error) {
	d := &model.DeductionAttempt{}
	var status string
	var failCode, failReason, txnID *string
	if err := row.Scan(
		&d.ID, &d.ContractID, &d.EntitlementID, &d.Amount, &status,
		&d.RetryCount, &d.NextRetryAt, &failCode, &failReason, &txnID,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	d.Status = model.DeductionStatus(status)
	if failCode != nil {
		d.FailCode = *failCode
	}
	if failReason != nil {
		d.FailReason = *failReason
	}
	if txnID != nil {
		d.TransactionID = *txnID
	}
	return d, nil
}
