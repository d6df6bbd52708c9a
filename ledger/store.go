/*
store.go - Persistence contracts for accounts, transactions, promotions and events

PURPOSE:
  Defines the interface between the engine and the database. Stores expose
  small primitives; the engine composes them inside RunAtomically.

KEY INTERFACES:
  AccountStore:     Accounts and the authoritative points counter
  TransactionStore: Append-only ledger rows plus the two permitted flag updates
  PromotionStore:   Promotion catalog and per-user one-time usage
  EventStore:       Event pool counters and membership
  TxStore:          Store + RunAtomically (all-or-nothing unit of work)

COUNTER CONTRACT:
  Balances and pool counters are changed only through relative primitives
  (AddPoints, DebitPoints, ReserveEventPoints, AdjustEventBudget). The
  conditional ones return false instead of driving a counter negative.
  Implementations must apply them as a single atomic statement; never
  read, compute and write back.

EXACTLY-ONCE TRANSITIONS:
  MarkProcessed, SetSuspicious and MarkPromotionUsed return whether THIS call
  performed the transition. A false return means another caller already did
  and the caller must not apply the transition's balance effect again.

NOT FOUND:
  Getters return ErrAccountNotFound, ErrTransactionNotFound,
  ErrPromotionNotFound or ErrEventNotFound.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: the only writer of balances
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountStore interface {
	// CreateAccount assigns ID and CreatedAt. Returns ErrDuplicateUtorid.
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByUtorid(ctx context.Context, utorid string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// UpdateAccount persists Email, Role, Verified and Suspicious. Points are
	// never written through this method.
	UpdateAccount(ctx context.Context, a *Account) error

	// AddPoints applies delta unconditionally.
	AddPoints(ctx context.Context, id int64, delta int64) error

	// DebitPoints subtracts amount only if the balance covers it.
	DebitPoints(ctx context.Context, id int64, amount int64) (bool, error)
}

// =============================================================================
// TRANSACTIONS - append-only
// =============================================================================

type TransactionStore interface {
	// InsertTransaction assigns ID and CreatedAt (if zero) and stores the
	// promotion links in order.
	InsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)

	// ListTransactionsByUser returns the account's rows ordered by ID.
	ListTransactionsByUser(ctx context.Context, userID int64) ([]Transaction, error)

	// MarkProcessed flips a pending redemption to processed.
	MarkProcessed(ctx context.Context, id int64, processedBy int64) (bool, error)

	// SetSuspicious sets the flag if it differs from the stored value.
	SetSuspicious(ctx context.Context, id int64, flag bool) (bool, error)
}

// =============================================================================
// PROMOTIONS
// =============================================================================

type PromotionStore interface {
	CreatePromotion(ctx context.Context, p *Promotion) error
	UpdatePromotion(ctx context.Context, p *Promotion) error
	DeletePromotion(ctx context.Context, id int64) error
	GetPromotion(ctx context.Context, id int64) (*Promotion, error)
	ListPromotions(ctx context.Context) ([]Promotion, error)

	// ActivePromotions returns promotions of kind with start <= at <= end,
	// ordered by ID.
	ActivePromotions(ctx context.Context, kind PromotionKind, at time.Time) ([]Promotion, error)

	IsPromotionUsed(ctx context.Context, userID, promotionID int64) (bool, error)

	// MarkPromotionUsed records the use unless it is already recorded.
	MarkPromotionUsed(ctx context.Context, userID, promotionID int64) (bool, error)
}

// =============================================================================
// EVENTS
// =============================================================================

type EventStore interface {
	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id int64) (*Event, error)

	// UpdateEvent persists Name, Description, Location, Capacity, StartTime,
	// EndTime and Published. Pool counters are never written through it.
	UpdateEvent(ctx context.Context, e *Event) error

	// DeleteEvent removes the event with its organizer and guest lists.
	DeleteEvent(ctx context.Context, id int64) error

	// ReserveEventPoints moves total from remain to awarded if remain covers it.
	ReserveEventPoints(ctx context.Context, id int64, total int64) (bool, error)

	// AdjustEventBudget adds delta to both points and remain, refusing when
	// remain would drop below zero.
	AdjustEventBudget(ctx context.Context, id int64, delta int64) (bool, error)

	// AddOrganizer and AddGuest are idempotent.
	AddOrganizer(ctx context.Context, eventID, userID int64) error
	AddGuest(ctx context.Context, eventID, userID int64) error
	RemoveGuest(ctx context.Context, eventID, userID int64) (bool, error)
	RemoveOrganizer(ctx context.Context, eventID, userID int64) (bool, error)
	IsOrganizer(ctx context.Context, eventID, userID int64) (bool, error)
	IsGuest(ctx context.Context, eventID, userID int64) (bool, error)

	// ListGuests returns guest user IDs in the order they joined.
	ListGuests(ctx context.Context, eventID int64) ([]int64, error)
	ListOrganizers(ctx context.Context, eventID int64) ([]int64, error)
}

// =============================================================================
// COMPOSED STORES
// =============================================================================

// Store is everything the engine reads and writes.
type Store interface {
	AccountStore
	TransactionStore
	PromotionStore
	EventStore
}

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// RunAtomically executes fn against a transactional view of the store.
	// If fn returns an error, every write made through the view is rolled
	// back. If fn returns nil, the writes are committed together.
	RunAtomically(ctx context.Context, fn func(Store) error) error
}
