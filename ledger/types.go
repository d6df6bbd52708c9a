/*
Package ledger provides the loyalty points ledger and transaction-integrity engine.

PURPOSE:
  Every change to a user's point balance goes through this package. The engine
  validates one of five transaction kinds (purchase, redemption, transfer,
  adjustment, event), mutates the authoritative balance with atomic store
  primitives, and appends an immutable transaction row, all inside a single
  atomic unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - Role / Actor: who is asking, and what they are cleared for
  - Account: identity, role, flags and the single authoritative balance
  - Transaction: an append-only ledger row (one per affected account)
  - Promotion / PromotionUse: bonus rules consumed at purchase time
  - Event: a points budget drawn down by awards to guests

DESIGN PRINCIPLES:
  1. Append-only: rows are never deleted; only Suspicious and Processed mutate
  2. Precision: spend amounts and promotion rates use decimal.Decimal
  3. Effect accounting: a row's balance effect is derived (see Effect), so the
     balance can always be replayed from the rows
  4. Atomicity: multi-row mutations run inside TxStore.RunAtomically

SEE ALSO:
  - engine.go: Engine construction and shared helpers
  - transactions.go: the transaction-kind handlers
  - promotion.go / event.go / account.go: catalog, event pool, accounts
  - store.go: persistence contracts
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleRegular   Role = "regular"
	RoleCashier   Role = "cashier"
	RoleManager   Role = "manager"
	RoleSuperuser Role = "superuser"
)

var roleLevels = map[Role]int{
	RoleRegular:   1,
	RoleCashier:   2,
	RoleManager:   3,
	RoleSuperuser: 4,
}

// ParseRole normalizes a role name. Unknown names return false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := roleLevels[r]
	return r, ok
}

func (r Role) Level() int { return roleLevels[r] }

// AtLeast reports whether r is cleared for everything min is cleared for.
func (r Role) AtLeast(min Role) bool { return r.Level() >= min.Level() && r.Level() > 0 }

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID   int64
	Role Role
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID         int64
	Utorid     string
	Name       string
	Email      string
	Role       Role
	Points     int64
	Verified   bool
	Suspicious bool
	CreatedAt  time.Time
}

// AccountRef identifies a target account either by ID or by utorid.
type AccountRef struct {
	ID     int64
	Utorid string
}

func (r AccountRef) IsZero() bool { return r.ID == 0 && r.Utorid == "" }

// =============================================================================
// TRANSACTION
// =============================================================================

type TxKind string

const (
	KindPurchase   TxKind = "purchase"
	KindRedemption TxKind = "redemption"
	KindTransfer   TxKind = "transfer"
	KindAdjustment TxKind = "adjustment"
	KindEvent      TxKind = "event"
)

func ParseTxKind(s string) (TxKind, bool) {
	switch k := TxKind(strings.ToLower(s)); k {
	case KindPurchase, KindRedemption, KindTransfer, KindAdjustment, KindEvent:
		return k, true
	}
	return "", false
}

// Transaction is one account's side of a ledger operation.
//
// RelatedID links a row to its counterpart: the other account for transfers,
// the event for event awards, the corrected transaction for adjustments.
type Transaction struct {
	ID            int64
	Kind          TxKind
	UserID        int64
	CreatedByID   int64
	Awarded       *int64
	Redeemed      *int64
	Spent         *decimal.Decimal
	RelatedID     *int64
	PromotionIDs  []int64
	Remark        string
	Suspicious    bool
	Processed     *bool
	ProcessedByID *int64
	CreatedAt     time.Time
}

// OpeningBalanceRemark marks the adjustment rows written when seed data is
// loaded. They are the only adjustments with no RelatedID; Adjust always
// requires one.
const OpeningBalanceRemark = "opening balance"

// IsOpeningBalance reports whether t is a seeded opening-balance row.
func (t Transaction) IsOpeningBalance() bool {
	return t.Kind == KindAdjustment && t.RelatedID == nil && t.Remark == OpeningBalanceRemark
}

// Amount is the net recorded value: awarded - redeemed.
func (t Transaction) Amount() int64 {
	var n int64
	if t.Awarded != nil {
		n += *t.Awarded
	}
	if t.Redeemed != nil {
		n -= *t.Redeemed
	}
	return n
}

func (t Transaction) IsProcessed() bool { return t.Processed != nil && *t.Processed }

// IsPending reports whether t is a redemption that has not been processed yet.
func (t Transaction) IsPending() bool { return t.Kind == KindRedemption && !t.IsProcessed() }

// Effect is the delta this row currently contributes to its owner's balance.
// Suspicious rows and unprocessed redemptions contribute nothing.
func (t Transaction) Effect() int64 {
	if t.Suspicious || t.IsPending() {
		return 0
	}
	return t.Amount()
}

// =============================================================================
// PROMOTION
// =============================================================================

type PromotionKind string

const (
	PromotionAutomatic PromotionKind = "automatic"
	PromotionOneTime   PromotionKind = "onetime"
)

// ParsePromotionKind accepts both "onetime" and the external "one-time" form.
func ParsePromotionKind(s string) (PromotionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automatic":
		return PromotionAutomatic, true
	case "onetime", "one-time":
		return PromotionOneTime, true
	}
	return "", false
}

type Promotion struct {
	ID          int64
	Name        string
	Description string
	Kind        PromotionKind
	StartTime   time.Time
	EndTime     time.Time
	MinSpending *decimal.Decimal
	Rate        *decimal.Decimal
	Points      *int64
	CreatedAt   time.Time
}

// ActiveAt reports start <= at <= end.
func (p Promotion) ActiveAt(at time.Time) bool {
	return !at.Before(p.StartTime) && !at.After(p.EndTime)
}

func (p Promotion) Started(at time.Time) bool { return !at.Before(p.StartTime) }

func (p Promotion) MeetsMinimum(spent decimal.Decimal) bool {
	return p.MinSpending == nil || spent.GreaterThanOrEqual(*p.MinSpending)
}

// Bonus is floor(spent * rate * 100) when a rate is set, plus the flat points.
func (p Promotion) Bonus(spent decimal.Decimal) int64 {
	var bonus int64
	if p.Rate != nil {
		bonus += spent.Mul(*p.Rate).Mul(decimal.NewFromInt(100)).Floor().IntPart()
	}
	if p.Points != nil {
		bonus += *p.Points
	}
	return bonus
}

// PromotionUse marks a one-time promotion as consumed by a user.
// A missing row means the promotion is still available to that user.
type PromotionUse struct {
	UserID      int64
	PromotionID int64
	Used        bool
}

// =============================================================================
// EVENT
// =============================================================================

type Event struct {
	ID            int64
	Name          string
	Description   string
	Location      string
	Capacity      *int64
	Points        int64
	PointsRemain  int64
	PointsAwarded int64
	StartTime     time.Time
	EndTime       time.Time
	Published     bool
	CreatedAt     time.Time
}

func (e Event) Ended(at time.Time) bool { return !at.Before(e.EndTime) }

// Conserved reports the pool invariant pointsRemain + pointsAwarded == points.
func (e Event) Conserved() bool { return e.PointsRemain+e.PointsAwarded == e.Points }

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }
