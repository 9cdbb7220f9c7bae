package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/repository"
)

// Ensure contractRepo implements repository.ContractRepository
var _ repository.ContractRepository = (*contractRepo)(nil)

// contractRepo is read-only: mandates are created and signed by the payment
// system, this engine only charges against them.
type contractRepo struct {
	pool *pgxpool.Pool
}

func NewContractRepo(pool *pgxpool.Pool) *contractRepo {
	return &contractRepo{pool: pool}
}

func (r *contractRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Contract, error) {
	const q = `
SELECT id, user_id, status, deduct_amount, payment_method, created_at, updated_at
  FROM payment_contracts
 WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	c := &model.Contract{}
	var status string
	if err := row.Scan(&c.ID, &c.UserID, &status, &c.DeductAmount, &c.PaymentMethod, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	c.Status = model.ContractStatus(status)
	return c, nil
}
