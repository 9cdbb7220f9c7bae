// File: internal/usecase/chain_uc.go
package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/adapter"
	"membership-engine/internal/domain/ports/repository"
)

// Chain is the per-user linked structure: one ACTIVE head, ordered PENDING
// entries, and PAUSED entries parked outside the sequence.
type Chain struct {
	Active  *model.Entitlement
	Pending []*model.Entitlement
	Paused  []*model.Entitlement
}

func (c *Chain) index() map[string]*model.Entitlement {
	byID := make(map[string]*model.Entitlement, len(c.Pending)+1)
	if c.Active != nil {
		byID[c.Active.ID] = c.Active
	}
	for _, p := range c.Pending {
		byID[p.ID] = p
	}
	return byID
}

type PositionType string

const (
	PositionImmediate PositionType = "immediate"
	PositionQueued    PositionType = "queued"
)

// InsertResult enumerates everything an insertion touched.
type InsertResult struct {
	PositionType PositionType
	Position     int // queue position of the inserted entitlement
	Inserted     *model.Entitlement
	Compensation *model.Entitlement // synthesized on preemption, nil otherwise
	Affected     []*model.Entitlement
	Paused       []*model.Entitlement
	Cancelled    []*model.Entitlement
}

func (r *InsertResult) touched(e *model.Entitlement) {
	for _, a := range r.Affected {
		if a.ID == e.ID {
			return
		}
	}
	r.Affected = append(r.Affected, e)
}

// HealthIssue is a single invariant violation found by HealthCheck.
type HealthIssue struct {
	Code          string
	EntitlementID string
	Detail        string
}

type HealthReport struct {
	Healthy bool
	Issues  []HealthIssue
}

type RepairResult struct {
	Fixed   bool
	Actions []string
}

// Activator grants activation side effects (benefits, membership aggregate).
// It is implemented by SubscriptionService; ChainManager calls it on the
// immediate-activation path and stays out of the granting business itself.
type Activator interface {
	ActivateSubscription(ctx context.Context, tx repository.Tx, e *model.Entitlement) (bool, error)
}

// ChainManager exclusively owns link mutation: PrevID/NextID/QueuePos splicing
// and expiration recomputation. Status transitions and benefit side effects
// belong to SubscriptionService. Every operation runs inside the caller's
// transactional scope (tx) and under the caller's user lock.
type ChainManager struct {
	ents      repository.EntitlementRepository
	clock     adapter.Clock
	ids       adapter.IDGenerator
	activator Activator
	log       *zerolog.Logger
}

func NewChainManager(ents repository.EntitlementRepository, clock adapter.Clock, ids adapter.IDGenerator, logger *zerolog.Logger) *ChainManager {
	l := logger.With().Str("component", "ChainManager").Logger()
	return &ChainManager{ents: ents, clock: clock, ids: ids, log: &l}
}

// SetActivator wires the activation callback after construction; ChainManager
// and SubscriptionService reference each other.
func (m *ChainManager) SetActivator(a Activator) { m.activator = a }

// GetUserChain loads the user's recurring-tier chain. excludeID filters out an
// entitlement that is being constructed but not yet linked, so insertion never
// sees the record it is placing.
func (m *ChainManager) GetUserChain(ctx context.Context, tx repository.Tx, userID, excludeID string) (*Chain, error) {
	active, err := m.ents.FindActiveByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}
	pending, err := m.ents.FindPendingByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}
	paused, err := m.ents.FindPausedByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}

	c := &Chain{}
	if active != nil && active.ID != excludeID {
		c.Active = active
	}
	for _, p := range pending {
		if p.ID != excludeID {
			c.Pending = append(c.Pending, p)
		}
	}
	for _, p := range paused {
		if p.ID != excludeID {
			c.Paused = append(c.Paused, p)
		}
	}
	return c, nil
}

// InsertSubscription places a new recurring-tier entitlement into the user's
// chain: immediately (activating it, possibly preempting the current head) or
// queued by priority. All mutations land in the caller's transaction.
func (m *ChainManager) InsertSubscription(ctx context.Context, tx repository.Tx, e *model.Entitlement, chain *Chain) (*InsertResult, error) {
	if e == nil || e.Kind != model.KindRecurringTier {
		return nil, domain.ErrInvalidArgument
	}
	if chain == nil {
		var err error
		chain, err = m.GetUserChain(ctx, tx, e.UserID, e.ID)
		if err != nil {
			return nil, err
		}
	}

	res := &InsertResult{Inserted: e}

	// At most one auto-renewing entitlement per user: a regular purchase takes
	// over auto-renewal from every other live entitlement.
	if !e.IsCompensation {
		others := make([]*model.Entitlement, 0, len(chain.Pending)+len(chain.Paused)+1)
		if chain.Active != nil {
			others = append(others, chain.Active)
		}
		others = append(others, chain.Pending...)
		others = append(others, chain.Paused...)
		for _, o := range others {
			if !o.AutoRenew {
				continue
			}
			o.AutoRenew = false
			if err := m.ents.Save(ctx, tx, o); err != nil {
				return nil, err
			}
			res.touched(o)
		}
		e.AutoRenew = true
	}

	if chain.Active == nil || e.LevelWeight > chain.Active.LevelWeight {
		return m.insertImmediate(ctx, tx, e, chain, res)
	}
	return m.insertQueued(ctx, tx, e, chain, res)
}

// insertImmediate activates e at the head of the chain. An outranked ACTIVE
// entitlement is paused and its unused days come back as a compensation
// entitlement, so a preempted user never silently loses paid time.
func (m *ChainManager) insertImmediate(ctx context.Context, tx repository.Tx, e *model.Entitlement, chain *Chain, res *InsertResult) (*InsertResult, error) {
	now := m.clock.Now()
	res.PositionType = PositionImmediate
	res.Position = 0

	remainingDays := 0
	var preempted *model.Entitlement
	if chain.Active != nil {
		preempted = chain.Active
		remainingDays = preempted.RemainingDays(now)
		preempted.Status = model.EntitlementStatusPaused
		preempted.PrevID = nil
		preempted.NextID = nil
		preempted.QueuePos = 0
		if err := m.ents.Save(ctx, tx, preempted); err != nil {
			return nil, err
		}
		res.Paused = append(res.Paused, preempted)
		res.touched(preempted)
		m.log.Info().Str("user_id", e.UserID).Str("paused", preempted.ID).
			Int("remaining_days", remainingDays).Msg("active entitlement preempted")
	}

	e.Status = model.EntitlementStatusActive
	e.PrevID = nil
	e.QueuePos = 0
	e.ExpiresAt = now.Add(e.CycleDuration())
	if len(chain.Pending) > 0 {
		head := chain.Pending[0]
		e.NextID = strPtr(head.ID)
		head.PrevID = strPtr(e.ID)
		if err := m.ents.Save(ctx, tx, head); err != nil {
			return nil, err
		}
		res.touched(head)
	} else {
		e.NextID = nil
	}
	if err := m.ents.Save(ctx, tx, e); err != nil {
		return nil, err
	}
	res.touched(e)
	chain.Active = e

	if preempted != nil && remainingDays > 0 {
		comp, err := model.NewCompensation(m.ids.NewID(), preempted, remainingDays, now)
		if err != nil {
			return nil, err
		}
		subRes, err := m.InsertSubscription(ctx, tx, comp, chain)
		if err != nil {
			return nil, err
		}
		res.Compensation = comp
		for _, a := range subRes.Affected {
			res.touched(a)
		}
	}

	if err := m.RecalcChainTimes(ctx, tx, e.UserID); err != nil {
		return nil, err
	}

	if m.activator != nil {
		if _, err := m.activator.ActivateSubscription(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// insertQueued splices e into the pending queue before the first entry it
// outranks, then renumbers and retimes everything from the insertion point.
func (m *ChainManager) insertQueued(ctx context.Context, tx repository.Tx, e *model.Entitlement, chain *Chain, res *InsertResult) (*InsertResult, error) {
	idx := len(chain.Pending)
	for i, p := range chain.Pending {
		if Compare(e, p) > 0 {
			idx = i
			break
		}
	}

	var before *model.Entitlement
	if idx == 0 {
		before = chain.Active
	} else {
		before = chain.Pending[idx-1]
	}
	var after *model.Entitlement
	if idx < len(chain.Pending) {
		after = chain.Pending[idx]
	}

	e.Status = model.EntitlementStatusPending
	if before != nil {
		e.PrevID = strPtr(before.ID)
		before.NextID = strPtr(e.ID)
		e.QueuePos = before.QueuePos + 1
		e.ExpiresAt = before.ExpiresAt.Add(e.CycleDuration())
		if err := m.ents.Save(ctx, tx, before); err != nil {
			return nil, err
		}
		res.touched(before)
	} else {
		// No active head; e becomes the first pending entry.
		e.PrevID = nil
		e.QueuePos = 1
		e.ExpiresAt = m.clock.Now().Add(e.CycleDuration())
	}
	if after != nil {
		e.NextID = strPtr(after.ID)
		after.PrevID = strPtr(e.ID)
	} else {
		e.NextID = nil
	}
	if err := m.ents.Save(ctx, tx, e); err != nil {
		return nil, err
	}

	// Renumber and retime everything behind the insertion point.
	prev := e
	for _, p := range chain.Pending[idx:] {
		p.QueuePos = prev.QueuePos + 1
		p.ExpiresAt = prev.ExpiresAt.Add(p.CycleDuration())
		if err := m.ents.Save(ctx, tx, p); err != nil {
			return nil, err
		}
		res.touched(p)
		prev = p
	}

	res.PositionType = PositionQueued
	res.Position = e.QueuePos
	res.touched(e)

	// Reflect the splice in the caller's view of the chain.
	chain.Pending = append(chain.Pending[:idx:idx], append([]*model.Entitlement{e}, chain.Pending[idx:]...)...)
	return res, nil
}

// RecalcChainTimes rewalks the whole chain applying the prefix-sum rule:
// successor expiration = predecessor expiration + successor cycle length.
// Idempotent and safe to re-run.
func (m *ChainManager) RecalcChainTimes(ctx context.Context, tx repository.Tx, userID string) error {
	chain, err := m.GetUserChain(ctx, tx, userID, "")
	if err != nil {
		return err
	}
	start := chain.Active
	if start == nil {
		if len(chain.Pending) == 0 {
			return nil
		}
		// Headless chain: the first pending entry keeps its stored anchor.
		start = chain.Pending[0]
	}
	return m.retimeForward(ctx, tx, start, chain.index())
}

// RecalcChainTimesFrom retimes forward starting at startID.
func (m *ChainManager) RecalcChainTimesFrom(ctx context.Context, tx repository.Tx, userID, startID string) error {
	chain, err := m.GetUserChain(ctx, tx, userID, "")
	if err != nil {
		return err
	}
	byID := chain.index()
	start, ok := byID[startID]
	if !ok {
		return domain.ErrNotFound
	}
	return m.retimeForward(ctx, tx, start, byID)
}

func (m *ChainManager) retimeForward(ctx context.Context, tx repository.Tx, start *model.Entitlement, byID map[string]*model.Entitlement) error {
	seen := map[string]bool{start.ID: true}
	cur := start
	for cur.NextID != nil {
		next, ok := byID[*cur.NextID]
		if !ok {
			return fmt.Errorf("%w: dangling next link %s -> %s", domain.ErrChainCorrupted, cur.ID, *cur.NextID)
		}
		if seen[next.ID] {
			return fmt.Errorf("%w: link cycle at %s", domain.ErrChainCorrupted, next.ID)
		}
		seen[next.ID] = true
		want := cur.ExpiresAt.Add(next.CycleDuration())
		if !next.ExpiresAt.Equal(want) {
			next.ExpiresAt = want
			if err := m.ents.Save(ctx, tx, next); err != nil {
				return err
			}
		}
		cur = next
	}
	return nil
}

// RemoveFromChain splices a PENDING entitlement out of the queue. Returns
// false when the entitlement does not exist. Status gating (PENDING only) is
// the caller's responsibility.
func (m *ChainManager) RemoveFromChain(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	node, err := m.ents.FindByID(ctx, tx, id)
	if err == domain.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var prev *model.Entitlement
	if node.PrevID != nil {
		prev, err = m.ents.FindByID(ctx, tx, *node.PrevID)
		if err != nil && err != domain.ErrNotFound {
			return false, err
		}
	}
	var next *model.Entitlement
	if node.NextID != nil {
		next, err = m.ents.FindByID(ctx, tx, *node.NextID)
		if err != nil && err != domain.ErrNotFound {
			return false, err
		}
	}

	if prev != nil {
		prev.NextID = copyLink(node.NextID)
		if err := m.ents.Save(ctx, tx, prev); err != nil {
			return false, err
		}
	}
	if next != nil {
		next.PrevID = copyLink(node.PrevID)
		if err := m.ents.Save(ctx, tx, next); err != nil {
			return false, err
		}
	}

	node.PrevID = nil
	node.NextID = nil
	node.QueuePos = 0
	if err := m.ents.Save(ctx, tx, node); err != nil {
		return false, err
	}

	// The spliced-out node is still stored as PENDING at this point; it must
	// not claim a position the survivors need.
	if err := m.renumberPending(ctx, tx, node.UserID, node.ID); err != nil {
		return false, err
	}
	if prev != nil {
		err = m.RecalcChainTimesFrom(ctx, tx, node.UserID, prev.ID)
	} else {
		err = m.RecalcChainTimes(ctx, tx, node.UserID)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// renumberPending rewrites queue positions as the contiguous run 1..N in the
// stored pending order. excludeID skips an entry that is mid-transition and
// should not hold a position ("" excludes nothing).
func (m *ChainManager) renumberPending(ctx context.Context, tx repository.Tx, userID, excludeID string) error {
	pending, err := m.ents.FindPendingByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}
	pos := 0
	for _, p := range pending {
		if p.ID == excludeID {
			continue
		}
		pos++
		if p.QueuePos == pos {
			continue
		}
		p.QueuePos = pos
		if err := m.ents.Save(ctx, tx, p); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck validates the chain's structural invariants without mutating
// anything: a single ACTIVE head, continuous links, contiguous positions.
// Every violation found is reported, not just the first.
func (m *ChainManager) HealthCheck(ctx context.Context, tx repository.Tx, userID string) (*HealthReport, error) {
	chain, err := m.GetUserChain(ctx, tx, userID, "")
	if err != nil {
		return nil, err
	}
	report := &HealthReport{Healthy: true}
	add := func(code, entID, detail string) {
		report.Healthy = false
		report.Issues = append(report.Issues, HealthIssue{Code: code, EntitlementID: entID, Detail: detail})
	}

	live, err := m.ents.FindAllLiveByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}
	activeCount := 0
	for _, e := range live {
		if e.Kind == model.KindRecurringTier && e.Status == model.EntitlementStatusActive {
			activeCount++
		}
	}
	if activeCount > 1 {
		add("multiple_active", "", fmt.Sprintf("user has %d active entitlements", activeCount))
	}

	active, pending := chain.Active, chain.Pending

	if active != nil {
		if active.QueuePos != 0 {
			add("bad_position", active.ID, fmt.Sprintf("active entitlement has queue position %d, want 0", active.QueuePos))
		}
		if active.PrevID != nil {
			add("broken_link", active.ID, "active entitlement has a previous link")
		}
		switch {
		case len(pending) == 0 && active.NextID != nil:
			add("broken_link", active.ID, "active entitlement links to a successor but none is pending")
		case len(pending) > 0 && (active.NextID == nil || *active.NextID != pending[0].ID):
			add("broken_link", active.ID, "active entitlement does not link to the first pending entry")
		}
	}

	for i, p := range pending {
		wantPos := i + 1
		if p.QueuePos != wantPos {
			add("bad_position", p.ID, fmt.Sprintf("pending entitlement at index %d has queue position %d, want %d", i, p.QueuePos, wantPos))
		}
		switch {
		case i == 0 && active != nil:
			if p.PrevID == nil || *p.PrevID != active.ID {
				add("broken_link", p.ID, "first pending entry does not link back to the active entitlement")
			}
		case i == 0:
			if p.PrevID != nil {
				add("broken_link", p.ID, "headless chain's first pending entry has a previous link")
			}
		default:
			before := pending[i-1]
			if p.PrevID == nil || *p.PrevID != before.ID {
				add("broken_link", p.ID, "pending entry does not link back to its predecessor")
			}
			if before.NextID == nil || *before.NextID != p.ID {
				add("broken_link", before.ID, "pending entry does not link forward to its successor")
			}
		}
		if i == len(pending)-1 && p.NextID != nil {
			add("broken_link", p.ID, "tail pending entry has a dangling next link")
		}
	}

	return report, nil
}

// AutoFixChain deterministically repairs the chain: pending entries are
// re-sorted by Score (stable, so full ties keep insertion order), relinked
// under the current ACTIVE head, renumbered, and retimed. It never changes
// which entitlement is ACTIVE and is idempotent.
func (m *ChainManager) AutoFixChain(ctx context.Context, tx repository.Tx, userID string) (*RepairResult, error) {
	chain, err := m.GetUserChain(ctx, tx, userID, "")
	if err != nil {
		return nil, err
	}
	res := &RepairResult{}

	sorted := make([]*model.Entitlement, len(chain.Pending))
	copy(sorted, chain.Pending)
	sort.SliceStable(sorted, func(i, j int) bool { return Score(sorted[i]) > Score(sorted[j]) })

	save := func(e *model.Entitlement, action string) error {
		if err := m.ents.Save(ctx, tx, e); err != nil {
			return err
		}
		res.Actions = append(res.Actions, action)
		return nil
	}

	prev := chain.Active
	if prev != nil {
		changed := false
		if prev.QueuePos != 0 {
			prev.QueuePos = 0
			changed = true
		}
		if prev.PrevID != nil {
			prev.PrevID = nil
			changed = true
		}
		var wantNext *string
		if len(sorted) > 0 {
			wantNext = strPtr(sorted[0].ID)
		}
		if !linkEqual(prev.NextID, wantNext) {
			prev.NextID = wantNext
			changed = true
		}
		if changed {
			if err := save(prev, fmt.Sprintf("relinked active head %s", prev.ID)); err != nil {
				return nil, err
			}
		}
	}

	for i, p := range sorted {
		changed := false
		var wantPrev *string
		if prev != nil {
			wantPrev = strPtr(prev.ID)
		}
		if !linkEqual(p.PrevID, wantPrev) {
			p.PrevID = wantPrev
			changed = true
		}
		var wantNext *string
		if i < len(sorted)-1 {
			wantNext = strPtr(sorted[i+1].ID)
		}
		if !linkEqual(p.NextID, wantNext) {
			p.NextID = wantNext
			changed = true
		}
		if p.QueuePos != i+1 {
			p.QueuePos = i + 1
			changed = true
		}
		if changed {
			if err := save(p, fmt.Sprintf("relinked pending %s at position %d", p.ID, i+1)); err != nil {
				return nil, err
			}
		}
		prev = p
	}

	if err := m.RecalcChainTimes(ctx, tx, userID); err != nil {
		return nil, err
	}

	res.Fixed = len(res.Actions) > 0
	if res.Fixed {
		m.log.Warn().Str("user_id", userID).Strs("actions", res.Actions).Msg("chain repaired")
	}
	return res, nil
}

func strPtr(s string) *string { return &s }

func copyLink(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func linkEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
