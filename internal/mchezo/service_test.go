package mchezo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/annacash/annacash/internal/shared"
)

var testNow = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

const adminID int64 = 1

var admin = shared.Actor{ID: adminID}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T, cache *shared.StatusCache) (*memoryRepo, *Service) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, repo, cache, nil)
	svc.WithNow(func() time.Time { return testNow })
	return repo, svc
}

// seedGroup creates a group owned by admin with size active members in total.
func seedGroup(t *testing.T, svc *Service, size, maxMembers int) (Group, []Membership) {
	t.Helper()
	ctx := context.Background()
	group, creator, err := svc.CreateGroup(ctx, admin, CreateGroupInput{
		Name:               "Soko Kuu",
		ContributionAmount: dec(10000),
		MaxMembers:         maxMembers,
	})
	require.NoError(t, err)
	members := []Membership{creator}
	for i := 1; i < size; i++ {
		m, err := svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: adminID + int64(i)})
		require.NoError(t, err)
		members = append(members, m)
	}
	return group, members
}

func payout() PayoutInput {
	return PayoutInput{Amount: dec(50000), PaymentMethod: "Mobile Money"}
}

func TestCreateGroupEnrollsCreator(t *testing.T) {
	repo, svc := newTestService(t, nil)

	group, creator, err := svc.CreateGroup(context.Background(), admin, CreateGroupInput{Name: "Wanawake", ContributionAmount: dec(5000)})
	require.NoError(t, err)
	require.Equal(t, FrequencyWeekly, group.Frequency)
	require.Equal(t, DefaultMaxMembers, group.MaxMembers)
	require.Equal(t, OrderRandom, group.PayoutOrderMethod)
	require.True(t, group.OpenForEnrollment)
	require.Equal(t, shared.DefaultCurrency, group.Currency)
	require.Equal(t, adminID, group.OriginalRecorder)

	require.Equal(t, adminID, creator.UserID)
	require.Equal(t, 1, creator.PayoutOrder)
	require.Equal(t, MembershipActive, creator.Status)

	ok, err := repo.HasRole(context.Background(), adminID, groupScope(group.ID), shared.RoleAdmin)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{shared.AuditCreateGroup}, repo.auditActions())
}

func TestCreateGroupValidation(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()

	_, _, err := svc.CreateGroup(ctx, admin, CreateGroupInput{Name: "Ndogo", ContributionAmount: dec(99)})
	require.ErrorIs(t, err, ErrContributionTooSmall)

	_, _, err = svc.CreateGroup(ctx, admin, CreateGroupInput{Name: "Ndogo", ContributionAmount: dec(100), Frequency: "hourly"})
	require.ErrorIs(t, err, shared.ErrPrecondition)

	_, _, err = svc.CreateGroup(ctx, admin, CreateGroupInput{ContributionAmount: dec(100)})
	require.ErrorIs(t, err, shared.ErrPrecondition)

	_, _, err = svc.CreateGroup(ctx, shared.Actor{}, CreateGroupInput{Name: "Ndogo", ContributionAmount: dec(100)})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAddMemberAssignsNextPayoutOrder(t *testing.T) {
	repo, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 3, 10)
	require.Equal(t, []int{1, 2, 3}, []int{members[0].PayoutOrder, members[1].PayoutOrder, members[2].PayoutOrder})

	ok, err := repo.HasRole(ctx, members[1].UserID, groupScope(group.ID), shared.RoleMember)
	require.NoError(t, err)
	require.True(t, ok)

	seven := 7
	m, err := svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: 40, PayoutOrder: &seven})
	require.NoError(t, err)
	require.Equal(t, 7, m.PayoutOrder)

	next, err := svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: 41})
	require.NoError(t, err)
	require.Equal(t, 8, next.PayoutOrder)

	_, err = svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: 42, PayoutOrder: &seven})
	require.ErrorIs(t, err, ErrPayoutOrderInUse)

	_, err = svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: 41})
	require.ErrorIs(t, err, ErrDuplicateMember)
	require.True(t, shared.IsRetryable(err))
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	_, svc := newTestService(t, nil)
	group, members := seedGroup(t, svc, 2, 10)

	_, err := svc.AddMember(context.Background(), shared.Actor{ID: members[1].UserID}, group.ID, AddMemberInput{UserID: 50})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAddMemberNeverExceedsCapacity(t *testing.T) {
	repo, svc := newTestService(t, nil)
	ctx := context.Background()
	group, _ := seedGroup(t, svc, 3, 3)

	for i := 0; i < 3; i++ {
		_, err := svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: int64(100 + i)})
		require.ErrorIs(t, err, ErrGroupFull)
	}
	active, err := repo.ListActiveMemberships(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
}

func TestAddMemberRejectsClosedGroup(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, _, err := svc.CreateGroup(ctx, admin, CreateGroupInput{Name: "Familia", ContributionAmount: dec(1000), ClosedToEnrollment: true})
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: 9})
	require.ErrorIs(t, err, ErrGroupClosed)
}

func TestStartCycleNumbersSequentially(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, _ := seedGroup(t, svc, 2, 10)

	first, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.Number)
	require.Equal(t, CycleActive, first.Status)
	require.Equal(t, 0, first.PayoutsMade)

	_, err = svc.StartCycle(ctx, admin, group.ID)
	require.ErrorIs(t, err, ErrCycleAlreadyActive)

	_, err = svc.CancelCycle(ctx, admin, first.ID, "restart with new order")
	require.NoError(t, err)

	second, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, second.Number)
}

func TestRecordPayoutCompletesCycleOnLastMember(t *testing.T) {
	repo, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 5, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	for i, m := range members {
		p, updated, err := svc.RecordPayout(ctx, admin, cycle.ID, m.ID, payout())
		require.NoError(t, err)
		require.Equal(t, i+1, p.PayoutOrder)
		require.Equal(t, i+1, updated.PayoutsMade)
		require.NotNil(t, p.CompletedDate)
		if i < len(members)-1 {
			require.Equal(t, CycleActive, updated.Status, "payout %d", i+1)
			require.Nil(t, updated.EndDate)
			continue
		}
		require.Equal(t, CycleCompleted, updated.Status)
		require.NotNil(t, updated.EndDate)
		require.Equal(t, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), *updated.EndDate)
		require.True(t, updated.TotalPayouts.Equal(dec(250000)))
	}
	require.Contains(t, repo.auditActions(), shared.AuditCompleteCycle)

	progress, err := svc.GetCycleProgress(ctx, cycle.ID)
	require.NoError(t, err)
	require.True(t, progress.IsComplete)
	require.Equal(t, 5, progress.PayoutsMade)
	require.Equal(t, 0, progress.PayoutsRemaining)
	require.Equal(t, 100.0, progress.ProgressPercent)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[0].ID, payout())
	require.ErrorIs(t, err, ErrCycleNotActive)
}

func TestRecordPayoutRejectsDuplicate(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 3, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[1].ID, payout())
	require.NoError(t, err)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[1].ID, payout())
	require.ErrorIs(t, err, ErrDuplicatePayout)
	require.ErrorIs(t, err, shared.ErrConflict)

	stored, err := svc.repo.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.PayoutsMade)
	require.True(t, stored.TotalPayouts.Equal(dec(50000)))
}

func TestRecordPayoutConcurrentDuplicatesPayOnce(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 3, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.RecordPayout(ctx, admin, cycle.ID, members[0].ID, payout())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	require.Equal(t, 1, succeeded)

	payouts, err := svc.ListPayouts(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
}

func TestRecordPayoutGuards(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 2, 10)
	_, otherMembers := seedGroup(t, svc, 1, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, otherMembers[0].ID, payout())
	require.ErrorIs(t, err, ErrMembershipMismatch)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[1].ID, PayoutInput{Amount: dec(0), PaymentMethod: "Cash"})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.RecordPayout(ctx, admin, 9999, members[1].ID, payout())
	require.ErrorIs(t, err, ErrCycleNotFound)

	_, _, err = svc.RecordPayout(ctx, shared.Actor{ID: members[1].UserID}, cycle.ID, members[1].ID, payout())
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecordContributionDefaultsToCurrentWeek(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 3, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	c, err := svc.RecordContribution(ctx, admin, cycle.ID, members[0].ID, ContributionInput{Amount: dec(7500), PaymentMethod: "Cash"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Week)
	require.Equal(t, ContributionCompleted, c.Status)
	require.Equal(t, adminID, c.OriginalRecorder)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[0].ID, payout())
	require.NoError(t, err)

	c, err = svc.RecordContribution(ctx, admin, cycle.ID, members[1].ID, ContributionInput{Amount: dec(12000), PaymentMethod: "Cash"})
	require.NoError(t, err)
	require.Equal(t, 2, c.Week)

	week := 3
	c, err = svc.RecordContribution(ctx, admin, cycle.ID, members[1].ID, ContributionInput{Amount: dec(10000), PaymentMethod: "Cash", Week: &week})
	require.NoError(t, err)
	require.Equal(t, 3, c.Week)

	_, err = svc.RecordContribution(ctx, admin, cycle.ID, members[1].ID, ContributionInput{Amount: dec(-1), PaymentMethod: "Cash"})
	require.ErrorIs(t, err, ErrInvalidAmount)

	progress, err := svc.GetCycleProgress(ctx, cycle.ID)
	require.NoError(t, err)
	require.True(t, progress.ContributionsTotal.Equal(dec(29500)))
}

func TestRecordBulkContributionStopsAtCycleLength(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 5, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	in := BulkContributionInput{AmountPerWeek: dec(10000), Weeks: 10, PaymentMethod: "Cash"}
	bulk, err := svc.RecordBulkContribution(ctx, admin, cycle.ID, members[2].ID, in)
	require.NoError(t, err)
	require.Len(t, bulk, 5)
	for i, c := range bulk {
		require.Equal(t, i+1, c.Week)
	}

	for _, m := range members[:4] {
		_, _, err := svc.RecordPayout(ctx, admin, cycle.ID, m.ID, payout())
		require.NoError(t, err)
	}
	in.Weeks = 3
	bulk, err = svc.RecordBulkContribution(ctx, admin, cycle.ID, members[4].ID, in)
	require.NoError(t, err)
	require.Len(t, bulk, 1)
	require.Equal(t, 5, bulk[0].Week)
}

func TestCompleteCycleRequiresAllPayouts(t *testing.T) {
	repo, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 3, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[0].ID, payout())
	require.NoError(t, err)

	_, err = svc.CompleteCycle(ctx, admin, cycle.ID)
	require.ErrorIs(t, err, ErrPayoutsOutstanding)

	// withdrawing the unpaid members leaves only the paid one active
	_, err = svc.WithdrawMember(ctx, admin, members[1].ID)
	require.NoError(t, err)
	_, err = svc.WithdrawMember(ctx, admin, members[2].ID)
	require.NoError(t, err)

	done, err := svc.CompleteCycle(ctx, admin, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, CycleCompleted, done.Status)
	require.Contains(t, repo.auditActions(), shared.AuditCompleteCycle)

	_, err = svc.CompleteCycle(ctx, admin, cycle.ID)
	require.ErrorIs(t, err, ErrCycleNotActive)
}

func TestCancelCycle(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, _ := seedGroup(t, svc, 2, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	cancelled, err := svc.CancelCycle(ctx, admin, cycle.ID, "treasurer left")
	require.NoError(t, err)
	require.Equal(t, CycleCancelled, cancelled.Status)
	require.Equal(t, "treasurer left", cancelled.Notes)
	require.NotNil(t, cancelled.EndDate)

	_, err = svc.CancelCycle(ctx, admin, cycle.ID, "")
	require.ErrorIs(t, err, ErrCycleNotActive)
}

func TestWithdrawMember(t *testing.T) {
	repo, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 3, 3)

	withdrawn, err := svc.WithdrawMember(ctx, admin, members[2].ID)
	require.NoError(t, err)
	require.Equal(t, MembershipWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.ExitDate)

	ok, err := repo.HasRole(ctx, members[2].UserID, groupScope(group.ID), shared.RoleMember)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.WithdrawMember(ctx, admin, members[2].ID)
	require.ErrorIs(t, err, ErrMembershipInactive)

	// the freed seat and payout order are reusable
	m, err := svc.AddMember(ctx, admin, group.ID, AddMemberInput{UserID: 77})
	require.NoError(t, err)
	require.Equal(t, 3, m.PayoutOrder)
}

func TestGetDefaultedMembers(t *testing.T) {
	_, svc := newTestService(t, nil)
	ctx := context.Background()
	group, members := seedGroup(t, svc, 4, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	for _, m := range []Membership{members[0], members[2]} {
		_, err := svc.RecordContribution(ctx, admin, cycle.ID, m.ID, ContributionInput{Amount: dec(10000), PaymentMethod: "Cash"})
		require.NoError(t, err)
	}

	defaulted, err := svc.GetDefaultedMembers(ctx, cycle.ID)
	require.NoError(t, err)
	ids := []int64{}
	for _, m := range defaulted {
		ids = append(ids, m.ID)
	}
	require.ElementsMatch(t, []int64{members[1].ID, members[3].ID}, ids)
}

func TestGetCycleProgressCachedAndInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, svc := newTestService(t, shared.NewStatusCache(client, time.Minute))
	ctx := context.Background()
	group, members := seedGroup(t, svc, 4, 10)
	cycle, err := svc.StartCycle(ctx, admin, group.ID)
	require.NoError(t, err)

	first, err := svc.GetCycleProgress(ctx, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, 4, first.TotalMembers)
	require.Equal(t, 0, first.PayoutsMade)

	again, err := svc.GetCycleProgress(ctx, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, first, again)

	_, _, err = svc.RecordPayout(ctx, admin, cycle.ID, members[3].ID, payout())
	require.NoError(t, err)

	fresh, err := svc.GetCycleProgress(ctx, cycle.ID)
	require.NoError(t, err)
	require.Equal(t, 1, fresh.PayoutsMade)
	require.Equal(t, 3, fresh.PayoutsRemaining)
	require.Equal(t, 25.0, fresh.ProgressPercent)
	require.True(t, fresh.PayoutsTotal.Equal(dec(50000)))
}
