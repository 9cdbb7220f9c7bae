package repository

import (
	"context"

	"membership-engine/internal/domain/model"
)

// ContractRepository reads signed payment mandates. Contracts are created and
// signed by the payment system; this engine never writes them.
type ContractRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Contract, error)
}
