package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"membership-engine/internal/domain/ports/adapter"
)

var _ adapter.DeductionGateway = (*NoopGateway)(nil)

// NoopGateway is a simple in-memory gateway for tests and the demo binary.
// Every charge succeeds unless a failure code is programmed for the contract.
type NoopGateway struct {
	mu       sync.Mutex
	seq      int64
	failWith map[string]string // contractRef -> error code
	charges  map[string]decimal.Decimal
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{
		failWith: make(map[string]string),
		charges:  make(map[string]decimal.Decimal),
	}
}

func (g *NoopGateway) Name() string { return "noop" }

// FailNext makes subsequent charges for contractRef fail with code. An empty
// code restores success.
func (g *NoopGateway) FailNext(contractRef, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if code == "" {
		delete(g.failWith, contractRef)
		return
	}
	g.failWith[contractRef] = code
}

func (g *NoopGateway) ApplyDeduct(ctx context.Context, contractRef string, amount decimal.Decimal) (adapter.DeductResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if code, bad := g.failWith[contractRef]; bad {
		return adapter.DeductResult{Status: adapter.DeductStatusFailed, ErrorCode: code}, nil
	}
	g.seq++
	txn := fmt.Sprintf("noop-%d", g.seq)
	g.charges[txn] = amount
	return adapter.DeductResult{Status: adapter.DeductStatusPaid, TransactionID: txn}, nil
}

func (g *NoopGateway) Query(ctx context.Context, attemptRef string) (adapter.DeductResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.charges[attemptRef]; ok {
		return adapter.DeductResult{Status: adapter.DeductStatusPaid, TransactionID: attemptRef}, nil
	}
	return adapter.DeductResult{Status: adapter.DeductStatusFailed, ErrorCode: "NOT_FOUND"}, nil
}
