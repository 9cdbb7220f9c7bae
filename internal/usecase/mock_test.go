//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/adapter"
	"membership-engine/internal/domain/ports/repository"
)

// ---- In-memory Entitlement repository ----

type MockEntitlementRepo struct {
	mu   sync.Mutex
	data map[string]*model.Entitlement // by id

	SaveFunc              func(ctx context.Context, tx repository.Tx, e *model.Entitlement) error
	FindByIDFunc          func(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error)
	FindActiveByUserFunc  func(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error)
	FindPendingByUserFunc func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error)
}

var _ repository.EntitlementRepository = (*MockEntitlementRepo)(nil)

func NewMockEntitlementRepo() *MockEntitlementRepo {
	return &MockEntitlementRepo{data: map[string]*model.Entitlement{}}
}

// Seed loads an entitlement directly, bypassing the version check.
func (r *MockEntitlementRepo) Seed(e *model.Entitlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.data[e.ID] = &cp
}

// Get reads the stored copy for assertions.
func (r *MockEntitlementRepo) Get(id string) *model.Entitlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (r *MockEntitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.data[e.ID]; ok && cur.Version != e.Version {
		return domain.ErrVersionConflict
	}
	e.Version++
	cp := *e
	r.data[e.ID] = &cp
	return nil
}

func (r *MockEntitlementRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MockEntitlementRepo) FindByExternalRef(ctx context.Context, tx repository.Tx, ref string) (*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.data {
		if e.ExternalRef == ref {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockEntitlementRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	if r.FindActiveByUserFunc != nil {
		return r.FindActiveByUserFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.data {
		if e.UserID == userID && e.Kind == model.KindRecurringTier && e.Status == model.EntitlementStatusActive {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockEntitlementRepo) byUserStatus(userID string, st model.EntitlementStatus) []*model.Entitlement {
	var out []*model.Entitlement
	for _, e := range r.data {
		if e.UserID == userID && e.Kind == model.KindRecurringTier && e.Status == st {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (r *MockEntitlementRepo) FindPendingByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	if r.FindPendingByUserFunc != nil {
		return r.FindPendingByUserFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.byUserStatus(userID, model.EntitlementStatusPending)
	sort.Slice(out, func(i, j int) bool { return out[i].QueuePos < out[j].QueuePos })
	return out, nil
}

func (r *MockEntitlementRepo) FindPausedByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUserStatus(userID, model.EntitlementStatusPaused), nil
}

func (r *MockEntitlementRepo) FindAllLiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Entitlement
	for _, e := range r.data {
		if e.UserID != userID || e.Kind != model.KindRecurringTier {
			continue
		}
		switch e.Status {
		case model.EntitlementStatusActive, model.EntitlementStatusPending, model.EntitlementStatusPaused:
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockEntitlementRepo) FindActiveRenewableByContract(ctx context.Context, tx repository.Tx, contractID string) (*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.data {
		if e.Status == model.EntitlementStatusActive && e.ContractID != nil && *e.ContractID == contractID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockEntitlementRepo) FindExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Entitlement
	for _, e := range r.data {
		if e.IsDue(now) {
			cp := *e
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MockEntitlementRepo) FindStuckPending(ctx context.Context, tx repository.Tx, limit int) ([]*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := map[string]bool{}
	for _, e := range r.data {
		if e.Kind == model.KindRecurringTier && e.Status == model.EntitlementStatusActive {
			active[e.UserID] = true
		}
	}
	var out []*model.Entitlement
	for _, e := range r.data {
		if e.Status == model.EntitlementStatusPending && e.QueuePos == 1 && !active[e.UserID] {
			cp := *e
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MockEntitlementRepo) FindRenewalCandidates(ctx context.Context, tx repository.Tx, windowDays int, limit int) ([]*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Entitlement
	for _, e := range r.data {
		if e.Status == model.EntitlementStatusActive && e.AutoRenew && e.ContractID != nil {
			cp := *e
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MockEntitlementRepo) ListRecentlyTouchedUsers(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, e := range r.data {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			out = append(out, e.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MockEntitlementRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.EntitlementStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.EntitlementStatus]int{}
	for _, e := range r.data {
		out[e.Status]++
	}
	return out, nil
}

func (r *MockEntitlementRepo) CountActiveByLevel(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, e := range r.data {
		if e.Status == model.EntitlementStatusActive {
			out[e.LevelCode]++
		}
	}
	return out, nil
}

// ---- In-memory Contract repository ----

type MockContractRepo struct {
	mu   sync.Mutex
	data map[string]*model.Contract

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Contract, error)
}

var _ repository.ContractRepository = (*MockContractRepo)(nil)

func NewMockContractRepo() *MockContractRepo {
	return &MockContractRepo{data: map[string]*model.Contract{}}
}

func (r *MockContractRepo) Seed(c *model.Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.data[c.ID] = &cp
}

func (r *MockContractRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Contract, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ---- In-memory Deduction repository ----

type MockDeductionRepo struct {
	mu   sync.Mutex
	data map[string]*model.DeductionAttempt

	SaveFunc func(ctx context.Context, tx repository.Tx, d *model.DeductionAttempt) error
}

var _ repository.DeductionRepository = (*MockDeductionRepo)(nil)

func NewMockDeductionRepo() *MockDeductionRepo {
	return &MockDeductionRepo{data: map[string]*model.DeductionAttempt{}}
}

func (r *MockDeductionRepo) Seed(d *model.DeductionAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.data[d.ID] = &cp
}

func (r *MockDeductionRepo) Get(id string) *model.DeductionAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.data[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

func (r *MockDeductionRepo) Save(ctx context.Context, tx repository.Tx, d *model.DeductionAttempt) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.data[d.ID] = &cp
	return nil
}

func (r *MockDeductionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DeductionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MockDeductionRepo) FindOpenByContract(ctx context.Context, tx repository.Tx, contractID string) (*model.DeductionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.DeductionAttempt
	for _, d := range r.data {
		if d.ContractID != contractID {
			continue
		}
		if d.Status != model.DeductionStatusPending && d.Status != model.DeductionStatusFailed {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MockDeductionRepo) FindDueRetries(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.DeductionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DeductionAttempt
	for _, d := range r.data {
		if d.Retryable(now) {
			cp := *d
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MockDeductionRepo) FindStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.DeductionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DeductionAttempt
	for _, d := range r.data {
		if d.Status == model.DeductionStatusPending && d.UpdatedAt.Before(olderThan) {
			cp := *d
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ---- In-memory Membership repository ----

type MockMembershipRepo struct {
	mu   sync.Mutex
	data map[string]*model.Membership
}

var _ repository.MembershipRepository = (*MockMembershipRepo)(nil)

func NewMockMembershipRepo() *MockMembershipRepo {
	return &MockMembershipRepo{data: map[string]*model.Membership{}}
}

func (r *MockMembershipRepo) Get(userID string) *model.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[userID]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

func (r *MockMembershipRepo) Save(ctx context.Context, tx repository.Tx, m *model.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.data[m.UserID] = &cp
	return nil
}

func (r *MockMembershipRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MockMembershipRepo) AddPoints(ctx context.Context, tx repository.Tx, userID string, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.data[userID]
	if !ok {
		m = &model.Membership{UserID: userID}
		r.data[userID] = m
	}
	m.Points += amount
	return nil
}

func (r *MockMembershipRepo) SumPoints(ctx context.Context, tx repository.Tx) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, m := range r.data {
		total += int64(m.Points)
	}
	return total, nil
}

// ---- Mock deduction gateway ----

type MockGateway struct {
	mu    sync.Mutex
	calls int

	ApplyDeductFunc func(ctx context.Context, contractRef string, amount decimal.Decimal) (adapter.DeductResult, error)
	QueryFunc       func(ctx context.Context, attemptRef string) (adapter.DeductResult, error)
}

var _ adapter.DeductionGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *MockGateway) ApplyDeduct(ctx context.Context, contractRef string, amount decimal.Decimal) (adapter.DeductResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.ApplyDeductFunc != nil {
		return g.ApplyDeductFunc(ctx, contractRef, amount)
	}
	return adapter.DeductResult{Status: adapter.DeductStatusPaid, TransactionID: "txn-ok"}, nil
}

func (g *MockGateway) Query(ctx context.Context, attemptRef string) (adapter.DeductResult, error) {
	if g.QueryFunc != nil {
		return g.QueryFunc(ctx, attemptRef)
	}
	return adapter.DeductResult{Status: adapter.DeductStatusPaid, TransactionID: "txn-ok"}, nil
}

// ---- Mock benefit grantor ----

type grantCall struct {
	UserID    string
	Points    int
	LevelCode string
}

type MockGrantor struct {
	mu    sync.Mutex
	Calls []grantCall

	GrantFunc func(ctx context.Context, userID string, pointsAmount int, levelCode string) error
}

var _ adapter.BenefitGrantor = (*MockGrantor)(nil)

func (g *MockGrantor) Grant(ctx context.Context, userID string, pointsAmount int, levelCode string) error {
	if g.GrantFunc != nil {
		return g.GrantFunc(ctx, userID, pointsAmount, levelCode)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, grantCall{UserID: userID, Points: pointsAmount, LevelCode: levelCode})
	return nil
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ adapter.UserLocker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockNotAcquired
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// ---- Transaction manager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

// WithTx runs the function immediately with NoTX. Tests that need to verify
// transactional behavior assign a custom WithTxFunc.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- Deterministic clock and id generator ----

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ adapter.Clock = (*manualClock)(nil)

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

var _ adapter.IDGenerator = (*seqIDGen)(nil)

func (g *seqIDGen) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

// newTestLogger creates a silent zerolog.Logger so test output stays clean.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
