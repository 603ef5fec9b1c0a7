package mchezo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/annacash/annacash/internal/shared"
)

// MinContributionAmount is the smallest fixed contribution a group may set.
var MinContributionAmount = decimal.NewFromInt(100)

// DefaultMaxMembers applies when a group is created without a capacity.
const DefaultMaxMembers = 10

// Frequency is how often members contribute.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// PayoutOrderMethod decides the order members are paid in.
type PayoutOrderMethod string

const (
	OrderRandom     PayoutOrderMethod = "random"
	OrderFixed      PayoutOrderMethod = "fixed"
	OrderBidding    PayoutOrderMethod = "bidding"
	OrderSequential PayoutOrderMethod = "sequential"
)

// MembershipStatus tracks a member's standing in a group.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipCompleted MembershipStatus = "completed"
	MembershipWithdrawn MembershipStatus = "withdrawn"
	MembershipDefaulted MembershipStatus = "defaulted"
)

// CycleStatus enumerates cycle lifecycle stages.
type CycleStatus string

const (
	CycleDraft     CycleStatus = "draft"
	CycleActive    CycleStatus = "active"
	CycleCompleted CycleStatus = "completed"
	CycleCancelled CycleStatus = "cancelled"
)

// ContributionStatus captures settlement state of a contribution.
type ContributionStatus string

const (
	ContributionPending   ContributionStatus = "pending"
	ContributionCompleted ContributionStatus = "completed"
	ContributionFailed    ContributionStatus = "failed"
	ContributionRefunded  ContributionStatus = "refunded"
)

// PayoutStatus captures settlement state of a payout.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutScheduled PayoutStatus = "scheduled"
	PayoutCompleted PayoutStatus = "completed"
	PayoutCancelled PayoutStatus = "cancelled"
)

// Group is a savings circle.
type Group struct {
	ID                 int64
	Name               string
	Description        string
	ContributionAmount decimal.Decimal
	Currency           string
	Frequency          Frequency
	MaxMembers         int
	PayoutOrderMethod  PayoutOrderMethod
	Active             bool
	OpenForEnrollment  bool
	shared.AuditFields
}

// Membership links one user to one group.
type Membership struct {
	ID          int64
	GroupID     int64
	UserID      int64
	Status      MembershipStatus
	JoinDate    time.Time
	ExitDate    *time.Time
	PayoutOrder int
	Phone       string
	shared.AuditFields
}

// Cycle is one round of a group, numbered from 1.
type Cycle struct {
	ID           int64
	GroupID      int64
	Number       int
	Status       CycleStatus
	StartDate    time.Time
	EndDate      *time.Time
	PayoutsMade  int
	TotalPayouts decimal.Decimal
	Notes        string
	shared.AuditFields
}

// Contribution is a payment by a member into a cycle.
type Contribution struct {
	ID            int64
	CycleID       int64
	MembershipID  int64
	Amount        decimal.Decimal
	Currency      string
	Week          int
	PaymentMethod string
	Reference     string
	Status        ContributionStatus
	Timestamp     time.Time
	Notes         string
	shared.AuditFields
}

// Payout is a disbursement from a cycle to a member. One per (cycle, membership).
type Payout struct {
	ID            int64
	CycleID       int64
	MembershipID  int64
	Amount        decimal.Decimal
	Currency      string
	PayoutOrder   int
	PaymentMethod string
	Reference     string
	Status        PayoutStatus
	ScheduledDate time.Time
	CompletedDate *time.Time
	Notes         string
	shared.AuditFields
}

// CreateGroupInput configures a new group.
type CreateGroupInput struct {
	Name               string `validate:"required,max=200"`
	Description        string
	ContributionAmount decimal.Decimal
	Currency           string            `validate:"omitempty,len=3"`
	Frequency          Frequency         `validate:"omitempty,oneof=daily weekly biweekly monthly"`
	MaxMembers         int               `validate:"omitempty,gte=2,lte=500"`
	PayoutOrderMethod  PayoutOrderMethod `validate:"omitempty,oneof=random fixed bidding sequential"`
	ClosedToEnrollment bool
	Phone              string `validate:"max=20"`
}

// AddMemberInput enrolls a user. A nil PayoutOrder takes the next free position.
type AddMemberInput struct {
	UserID      int64  `validate:"required,gt=0"`
	PayoutOrder *int   `validate:"omitempty,gt=0"`
	Phone       string `validate:"max=20"`
}

// ContributionInput records a contribution. A nil Week means the cycle's current week.
type ContributionInput struct {
	Amount        decimal.Decimal
	PaymentMethod string `validate:"required,max=50"`
	Reference     string `validate:"max=100"`
	Week          *int   `validate:"omitempty,gt=0"`
	Notes         string
}

// BulkContributionInput pays several consecutive weeks in advance.
type BulkContributionInput struct {
	AmountPerWeek decimal.Decimal
	Weeks         int    `validate:"required,gt=0"`
	PaymentMethod string `validate:"required,max=50"`
	Reference     string `validate:"max=100"`
	Notes         string
}

// PayoutInput records a payout.
type PayoutInput struct {
	Amount        decimal.Decimal
	PaymentMethod string `validate:"required,max=50"`
	Reference     string `validate:"max=100"`
	Notes         string
}

// CycleProgress is the read-only view returned by GetCycleProgress.
type CycleProgress struct {
	CycleID            int64           `json:"cycle_id"`
	CycleNumber        int             `json:"cycle_number"`
	Status             CycleStatus     `json:"status"`
	TotalMembers       int             `json:"total_members"`
	PayoutsMade        int             `json:"payouts_made"`
	PayoutsRemaining   int             `json:"payouts_remaining"`
	ContributionsTotal decimal.Decimal `json:"contributions_total"`
	PayoutsTotal       decimal.Decimal `json:"payouts_total"`
	IsComplete         bool            `json:"is_complete"`
	ProgressPercent    float64         `json:"progress_percent"`
}

// CycleTotals aggregates completed contributions and payouts of a cycle.
type CycleTotals struct {
	ContributionsTotal decimal.Decimal
	PayoutsCompleted   int
	PayoutsTotal       decimal.Decimal
}

var (
	ErrGroupNotFound        = shared.NotFound("mchezo: group not found")
	ErrCycleNotFound        = shared.NotFound("mchezo: cycle not found")
	ErrMembershipNotFound   = shared.NotFound("mchezo: membership not found")
	ErrNoActiveCycle        = shared.NotFound("mchezo: no active cycle")
	ErrGroupFull            = shared.Precondition("mchezo: group is at maximum capacity")
	ErrGroupClosed          = shared.Precondition("mchezo: group is not open for new members")
	ErrContributionTooSmall = shared.Precondition("mchezo: contribution amount below minimum")
	ErrCycleAlreadyActive   = shared.Precondition("mchezo: an active cycle already exists")
	ErrCycleNotActive       = shared.Precondition("mchezo: cycle is not active")
	ErrPayoutsOutstanding   = shared.Precondition("mchezo: not every member has been paid")
	ErrInvalidAmount        = shared.Precondition("mchezo: amount must be positive")
	ErrMembershipMismatch   = shared.Precondition("mchezo: membership belongs to another group")
	ErrMembershipInactive   = shared.Precondition("mchezo: membership is not active")
	ErrNoWeeksRemaining     = shared.Precondition("mchezo: no contribution weeks remain in cycle")
	// Uniqueness rules; the store reports the same errors when a racing writer wins.
	ErrDuplicatePayout  = shared.Conflict("mchezo: membership already paid out in this cycle")
	ErrDuplicateMember  = shared.Conflict("mchezo: user is already a member of the group")
	ErrPayoutOrderInUse = shared.Conflict("mchezo: payout order already taken")
)
