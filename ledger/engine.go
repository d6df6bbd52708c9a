/*
engine.go - The ledger engine

PURPOSE:
  Engine is the single entry point for anything that changes a balance.
  Each operation follows the same shape:

    1. Check the actor's role and the input (no store access)
    2. Open one atomic unit with TxStore.RunAtomically
    3. Read what the rules need, re-check preconditions
    4. Apply counter changes through the store's conditional primitives
    5. Append the transaction row(s)
    6. Commit, log, return the created record(s)

  Any failure in steps 3-5 rolls back the whole unit.

CONFIGURATION:
  BaseRate          points per currency unit of spend (default 4)
  MaxSpent          largest spend accepted for one purchase (default 10000)
  RedemptionPolicy  lenient (default) debits processed redemptions
                    unconditionally; strict refuses when the balance
                    no longer covers the redemption

SEE ALSO:
  - transactions.go: purchase, redemption, transfer, adjustment, suspicious
  - event.go: event pool and awards
  - promotion.go: promotion catalog and bonus computation
  - balance.go: replay-based verification
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RedemptionPolicy string

const (
	RedemptionLenient RedemptionPolicy = "lenient"
	RedemptionStrict  RedemptionPolicy = "strict"
)

func ParseRedemptionPolicy(s string) (RedemptionPolicy, error) {
	switch p := RedemptionPolicy(s); p {
	case RedemptionLenient, RedemptionStrict:
		return p, nil
	case "":
		return RedemptionLenient, nil
	}
	return "", fmt.Errorf("unknown redemption policy %q", s)
}

type Config struct {
	BaseRate         decimal.Decimal
	MaxSpent         decimal.Decimal
	RedemptionPolicy RedemptionPolicy
}

func DefaultConfig() Config {
	return Config{
		BaseRate:         decimal.NewFromInt(4),
		MaxSpent:         decimal.NewFromInt(10000),
		RedemptionPolicy: RedemptionLenient,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store TxStore
	cfg   Config
	now   func() time.Time
	log   logrus.FieldLogger
}

type Option func(*Engine)

// WithClock overrides the time source used for promotion and event windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(store TxStore, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.BaseRate.IsZero() {
		cfg.BaseRate = def.BaseRate
	}
	if cfg.MaxSpent.IsZero() {
		cfg.MaxSpent = def.MaxSpent
	}
	if cfg.RedemptionPolicy == "" {
		cfg.RedemptionPolicy = def.RedemptionPolicy
	}
	e := &Engine{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// =============================================================================
// SHARED HELPERS
// =============================================================================

// fail classifies err and wraps it as *Error for op.
func (e *Engine) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	kind := KindOf(err)
	if kind == KindInternal {
		e.log.WithError(err).WithField("op", op).Error("ledger operation failed")
		if !errors.Is(err, ErrTransactionFailed) {
			err = fmt.Errorf("%w: %w", ErrTransactionFailed, err)
		}
	} else {
		e.log.WithError(err).WithFields(logrus.Fields{"op": op, "kind": kind}).Debug("ledger operation rejected")
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Engine) committed(op string, tx *Transaction) {
	e.log.WithFields(logrus.Fields{
		"op":      op,
		"kind":    tx.Kind,
		"tx_id":   tx.ID,
		"user_id": tx.UserID,
		"amount":  tx.Amount(),
	}).Info("ledger operation committed")
}

func requireRole(actor Actor, min Role) error {
	if !actor.Role.AtLeast(min) {
		return ErrForbidden
	}
	return nil
}

// resolveAccount loads the account a caller referenced by ID or utorid.
func resolveAccount(ctx context.Context, s AccountStore, ref AccountRef) (*Account, error) {
	switch {
	case ref.ID != 0:
		return s.GetAccount(ctx, ref.ID)
	case ref.Utorid != "":
		return s.GetAccountByUtorid(ctx, ref.Utorid)
	}
	return nil, fmt.Errorf("%w: account reference is empty", ErrInvalidInput)
}

// debit subtracts amount from the account through the conditional primitive.
func debit(ctx context.Context, s AccountStore, accountID, amount int64) error {
	ok, err := s.DebitPoints(ctx, accountID, amount)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return &InsufficientBalanceError{AccountID: accountID, Available: acct.Points, Requested: amount}
}

// validatePromotionIDs rejects non-positive and repeated IDs.
func validatePromotionIDs(ids []int64) error {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return &PromotionError{PromotionID: id, Err: ErrPromotionInvalid}
		}
		if _, dup := seen[id]; dup {
			return &PromotionError{PromotionID: id, Err: fmt.Errorf("%w: listed more than once", ErrPromotionInvalid)}
		}
		seen[id] = struct{}{}
	}
	return nil
}
