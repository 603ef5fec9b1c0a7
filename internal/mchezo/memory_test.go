package mchezo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/annacash/annacash/internal/shared"
)

type roleKey struct {
	groupID int64
	userID  int64
}

type memoryRepo struct {
	mu            sync.Mutex
	seq           int64
	groups        map[int64]Group
	members       map[int64]Membership
	cycles        map[int64]Cycle
	contributions map[int64]Contribution
	payouts       map[int64]Payout
	rolesMu       sync.Mutex
	roles         map[roleKey]map[shared.Role]bool
	events        []shared.AuditEvent
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		groups:        make(map[int64]Group),
		members:       make(map[int64]Membership),
		cycles:        make(map[int64]Cycle),
		contributions: make(map[int64]Contribution),
		payouts:       make(map[int64]Payout),
		roles:         make(map[roleKey]map[shared.Role]bool),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.seq
	groups, members, cycles := cloneMap(m.groups), cloneMap(m.members), cloneMap(m.cycles)
	contributions, payouts := cloneMap(m.contributions), cloneMap(m.payouts)
	roles := m.cloneRoles()
	events := len(m.events)
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.seq = seq
		m.groups, m.members, m.cycles = groups, members, cycles
		m.contributions, m.payouts = contributions, payouts
		m.rolesMu.Lock()
		m.roles = roles
		m.rolesMu.Unlock()
		m.events = m.events[:events]
		return err
	}
	return nil
}

func (m *memoryRepo) next() int64 {
	m.seq++
	return m.seq
}

func (m *memoryRepo) cloneRoles() map[roleKey]map[shared.Role]bool {
	m.rolesMu.Lock()
	defer m.rolesMu.Unlock()
	out := make(map[roleKey]map[shared.Role]bool, len(m.roles))
	for k, v := range m.roles {
		out[k] = cloneMap(v)
	}
	return out
}

// HasRole serves as the authorization oracle over the granted role rows.
func (m *memoryRepo) HasRole(_ context.Context, userID int64, scope shared.Scope, roles ...shared.Role) (bool, error) {
	m.rolesMu.Lock()
	defer m.rolesMu.Unlock()
	held := m.roles[roleKey{groupID: scope.ID, userID: userID}]
	for _, r := range roles {
		if held[r] {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) GetGroup(_ context.Context, id int64) (Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (m *memoryRepo) GetCycle(_ context.Context, id int64) (Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return Cycle{}, ErrCycleNotFound
	}
	return c, nil
}

func (m *memoryRepo) GetMembership(_ context.Context, id int64) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok {
		return Membership{}, ErrMembershipNotFound
	}
	return mem, nil
}

func (m *memoryRepo) ListActiveMemberships(_ context.Context, groupID int64) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMemberships(groupID), nil
}

func (m *memoryRepo) activeMemberships(groupID int64) []Membership {
	var out []Membership
	for _, mem := range m.members {
		if mem.GroupID == groupID && mem.Status == MembershipActive {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayoutOrder < out[j].PayoutOrder })
	return out
}

func (m *memoryRepo) CycleTotals(_ context.Context, cycleID int64) (CycleTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := CycleTotals{ContributionsTotal: decimal.Zero, PayoutsTotal: decimal.Zero}
	for _, c := range m.contributions {
		if c.CycleID == cycleID && c.Status == ContributionCompleted {
			totals.ContributionsTotal = totals.ContributionsTotal.Add(c.Amount)
		}
	}
	for _, p := range m.payouts {
		if p.CycleID == cycleID && p.Status == PayoutCompleted {
			totals.PayoutsCompleted++
			totals.PayoutsTotal = totals.PayoutsTotal.Add(p.Amount)
		}
	}
	return totals, nil
}

func (m *memoryRepo) ListContributors(_ context.Context, cycleID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var out []int64
	for _, c := range m.contributions {
		if c.CycleID == cycleID && c.Status == ContributionCompleted && !seen[c.MembershipID] {
			seen[c.MembershipID] = true
			out = append(out, c.MembershipID)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListPayouts(_ context.Context, cycleID int64) ([]Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payout
	for _, p := range m.payouts {
		if p.CycleID == cycleID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayoutOrder < out[j].PayoutOrder })
	return out, nil
}

func (m *memoryRepo) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertGroup(_ context.Context, g Group) (Group, error) {
	g.ID = t.repo.next()
	t.repo.groups[g.ID] = g
	return g, nil
}

func (t *memoryTx) LockGroup(_ context.Context, id int64) (Group, error) {
	g, ok := t.repo.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (t *memoryTx) ListActiveMemberships(_ context.Context, groupID int64) ([]Membership, error) {
	return t.repo.activeMemberships(groupID), nil
}

func (t *memoryTx) InsertMembership(_ context.Context, mem Membership) (Membership, error) {
	for _, existing := range t.repo.members {
		if existing.GroupID != mem.GroupID {
			continue
		}
		if existing.UserID == mem.UserID {
			return Membership{}, ErrDuplicateMember
		}
		if existing.Status == MembershipActive && existing.PayoutOrder == mem.PayoutOrder {
			return Membership{}, ErrPayoutOrderInUse
		}
	}
	mem.ID = t.repo.next()
	t.repo.members[mem.ID] = mem
	return mem, nil
}

func (t *memoryTx) LockMembership(_ context.Context, id int64) (Membership, error) {
	mem, ok := t.repo.members[id]
	if !ok {
		return Membership{}, ErrMembershipNotFound
	}
	return mem, nil
}

func (t *memoryTx) UpdateMembershipStatus(_ context.Context, mem Membership) error {
	current, ok := t.repo.members[mem.ID]
	if !ok {
		return ErrMembershipNotFound
	}
	current.Status = mem.Status
	current.ExitDate = mem.ExitDate
	current.UpdatedBy = mem.UpdatedBy
	current.UpdatedAt = mem.UpdatedAt
	t.repo.members[mem.ID] = current
	return nil
}

func (t *memoryTx) GrantRole(_ context.Context, groupID, userID int64, role shared.Role, _ int64, _ time.Time) error {
	t.repo.rolesMu.Lock()
	defer t.repo.rolesMu.Unlock()
	key := roleKey{groupID: groupID, userID: userID}
	if t.repo.roles[key] == nil {
		t.repo.roles[key] = make(map[shared.Role]bool)
	}
	t.repo.roles[key][role] = true
	return nil
}

func (t *memoryTx) RevokeRoles(_ context.Context, groupID, userID int64) error {
	t.repo.rolesMu.Lock()
	defer t.repo.rolesMu.Unlock()
	delete(t.repo.roles, roleKey{groupID: groupID, userID: userID})
	return nil
}

func (t *memoryTx) FindActiveCycle(_ context.Context, groupID int64) (Cycle, error) {
	for _, c := range t.repo.cycles {
		if c.GroupID == groupID && c.Status == CycleActive {
			return c, nil
		}
	}
	return Cycle{}, ErrNoActiveCycle
}

func (t *memoryTx) MaxCycleNumber(_ context.Context, groupID int64) (int, error) {
	highest := 0
	for _, c := range t.repo.cycles {
		if c.GroupID == groupID && c.Number > highest {
			highest = c.Number
		}
	}
	return highest, nil
}

func (t *memoryTx) InsertCycle(_ context.Context, c Cycle) (Cycle, error) {
	for _, existing := range t.repo.cycles {
		if existing.GroupID == c.GroupID && (existing.Number == c.Number || existing.Status == CycleActive) {
			return Cycle{}, shared.Conflict("cycle conflicts with an existing record")
		}
	}
	c.ID = t.repo.next()
	t.repo.cycles[c.ID] = c
	return c, nil
}

func (t *memoryTx) LockCycle(_ context.Context, id int64) (Cycle, error) {
	c, ok := t.repo.cycles[id]
	if !ok {
		return Cycle{}, ErrCycleNotFound
	}
	return c, nil
}

func (t *memoryTx) SaveCycle(_ context.Context, c Cycle) error {
	if _, ok := t.repo.cycles[c.ID]; !ok {
		return ErrCycleNotFound
	}
	t.repo.cycles[c.ID] = c
	return nil
}

func (t *memoryTx) InsertContribution(_ context.Context, c Contribution) (Contribution, error) {
	c.ID = t.repo.next()
	t.repo.contributions[c.ID] = c
	return c, nil
}

func (t *memoryTx) HasPayout(_ context.Context, cycleID, membershipID int64) (bool, error) {
	for _, p := range t.repo.payouts {
		if p.CycleID == cycleID && p.MembershipID == membershipID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) CountPayouts(_ context.Context, cycleID int64) (int, error) {
	n := 0
	for _, p := range t.repo.payouts {
		if p.CycleID == cycleID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) InsertPayout(_ context.Context, p Payout) (Payout, error) {
	for _, existing := range t.repo.payouts {
		if existing.CycleID == p.CycleID && existing.MembershipID == p.MembershipID {
			return Payout{}, fmt.Errorf("%w (membership %d)", ErrDuplicatePayout, p.MembershipID)
		}
	}
	p.ID = t.repo.next()
	t.repo.payouts[p.ID] = p
	return p, nil
}

func (t *memoryTx) Log(_ context.Context, event shared.AuditEvent) error {
	t.repo.events = append(t.repo.events, event)
	return nil
}
