package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PURCHASE
// =============================================================================

type PurchaseInput struct {
	Customer     AccountRef
	Spent        decimal.Decimal
	PromotionIDs []int64
	Remark       string
}

// PurchaseResult distinguishes what the purchase earned from what was
// actually credited. They differ when the cashier's account is suspicious.
type PurchaseResult struct {
	Transaction Transaction
	Earned      int64
	Credited    int64
}

// Purchase records a cashier-rung sale and credits the customer's points.
func (e *Engine) Purchase(ctx context.Context, actor Actor, in PurchaseInput) (*PurchaseResult, error) {
	const op = "purchase"
	if err := requireRole(actor, RoleCashier); err != nil {
		return nil, e.fail(op, err)
	}
	if !in.Spent.IsPositive() || in.Spent.GreaterThan(e.cfg.MaxSpent) {
		return nil, e.fail(op, ErrInvalidSpent)
	}
	if err := validatePromotionIDs(in.PromotionIDs); err != nil {
		return nil, e.fail(op, err)
	}

	var result *PurchaseResult
	err := e.store.RunAtomically(ctx, func(s Store) error {
		customer, err := resolveAccount(ctx, s, in.Customer)
		if err != nil {
			return err
		}
		cashier, err := s.GetAccount(ctx, actor.ID)
		if err != nil {
			return err
		}

		earned, err := e.computeEarned(ctx, s, customer.ID, in.Spent, in.PromotionIDs)
		if err != nil {
			return err
		}

		for _, id := range in.PromotionIDs {
			ok, err := s.MarkPromotionUsed(ctx, customer.ID, id)
			if err != nil {
				return err
			}
			if !ok {
				return &PromotionError{PromotionID: id, Err: ErrPromotionUsed}
			}
		}

		credited := earned
		if cashier.Suspicious {
			credited = 0
		}
		if credited != 0 {
			if err := s.AddPoints(ctx, customer.ID, credited); err != nil {
				return err
			}
		}

		spent := in.Spent
		tx := &Transaction{
			Kind:         KindPurchase,
			UserID:       customer.ID,
			CreatedByID:  cashier.ID,
			Awarded:      int64Ptr(earned),
			Spent:        &spent,
			PromotionIDs: append([]int64(nil), in.PromotionIDs...),
			Remark:       in.Remark,
			Suspicious:   cashier.Suspicious,
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		result = &PurchaseResult{Transaction: *tx, Earned: earned, Credited: credited}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.committed(op, &result.Transaction)
	return result, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// RequestRedemption records the actor's pending request to redeem amount
// points. The balance is untouched until a cashier processes it.
func (e *Engine) RequestRedemption(ctx context.Context, actor Actor, amount int64, remark string) (*Transaction, error) {
	const op = "request_redemption"
	if amount <= 0 {
		return nil, e.fail(op, ErrInvalidAmount)
	}

	var tx *Transaction
	err := e.store.RunAtomically(ctx, func(s Store) error {
		me, err := s.GetAccount(ctx, actor.ID)
		if err != nil {
			return err
		}
		if me.Points < amount {
			return &InsufficientBalanceError{AccountID: me.ID, Available: me.Points, Requested: amount}
		}
		tx = &Transaction{
			Kind:        KindRedemption,
			UserID:      me.ID,
			CreatedByID: me.ID,
			Redeemed:    int64Ptr(amount),
			Remark:      remark,
			Processed:   boolPtr(false),
		}
		return s.InsertTransaction(ctx, tx)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.committed(op, tx)
	return tx, nil
}

// ProcessRedemption completes a pending redemption and debits the owner.
// The transition happens at most once no matter how often it is retried.
func (e *Engine) ProcessRedemption(ctx context.Context, actor Actor, txID int64) (*Transaction, error) {
	const op = "process_redemption"
	if err := requireRole(actor, RoleCashier); err != nil {
		return nil, e.fail(op, err)
	}

	var tx *Transaction
	err := e.store.RunAtomically(ctx, func(s Store) error {
		var err error
		tx, err = s.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Kind != KindRedemption {
			return ErrNotRedemption
		}
		if tx.IsProcessed() {
			return ErrAlreadyProcessed
		}

		before := tx.Effect()
		ok, err := s.MarkProcessed(ctx, tx.ID, actor.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		tx.Processed = boolPtr(true)
		tx.ProcessedByID = int64Ptr(actor.ID)

		delta := tx.Effect() - before
		if delta == 0 {
			return nil
		}
		if e.cfg.RedemptionPolicy == RedemptionStrict && delta < 0 {
			return debit(ctx, s, tx.UserID, -delta)
		}
		return s.AddPoints(ctx, tx.UserID, delta)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.committed(op, tx)
	return tx, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// TransferResult holds both sides of a transfer.
type TransferResult struct {
	Sent     Transaction
	Received Transaction
}

// Transfer moves amount points from the actor to recipientID.
func (e *Engine) Transfer(ctx context.Context, actor Actor, recipientID int64, amount int64, remark string) (*TransferResult, error) {
	const op = "transfer"
	if amount <= 0 {
		return nil, e.fail(op, ErrInvalidAmount)
	}
	if recipientID == actor.ID {
		return nil, e.fail(op, ErrSelfTransfer)
	}

	var result *TransferResult
	err := e.store.RunAtomically(ctx, func(s Store) error {
		sender, err := s.GetAccount(ctx, actor.ID)
		if err != nil {
			return err
		}
		recipient, err := s.GetAccount(ctx, recipientID)
		if err != nil {
			return err
		}
		if !sender.Verified {
			return ErrUnverifiedSender
		}
		if sender.Points < amount {
			return &InsufficientBalanceError{AccountID: sender.ID, Available: sender.Points, Requested: amount}
		}

		if err := debit(ctx, s, sender.ID, amount); err != nil {
			return err
		}
		out := Transaction{
			Kind:        KindTransfer,
			UserID:      sender.ID,
			CreatedByID: sender.ID,
			Redeemed:    int64Ptr(amount),
			RelatedID:   int64Ptr(recipient.ID),
			Remark:      remark,
		}
		if err := s.InsertTransaction(ctx, &out); err != nil {
			return err
		}

		if err := s.AddPoints(ctx, recipient.ID, amount); err != nil {
			return err
		}
		in := Transaction{
			Kind:        KindTransfer,
			UserID:      recipient.ID,
			CreatedByID: sender.ID,
			Awarded:     int64Ptr(amount),
			RelatedID:   int64Ptr(sender.ID),
			Remark:      remark,
		}
		if err := s.InsertTransaction(ctx, &in); err != nil {
			return err
		}
		result = &TransferResult{Sent: out, Received: in}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.committed(op, &result.Sent)
	e.committed(op, &result.Received)
	return result, nil
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

type AdjustInput struct {
	Target       AccountRef
	Amount       int64
	RelatedID    int64
	PromotionIDs []int64
	Remark       string
}

// Adjust applies a manager correction tied to an existing transaction of
// the same account. Negative amounts never drive the balance below zero.
func (e *Engine) Adjust(ctx context.Context, actor Actor, in AdjustInput) (*Transaction, error) {
	const op = "adjust"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	if in.Amount == 0 {
		return nil, e.fail(op, ErrInvalidAmount)
	}
	if in.RelatedID <= 0 {
		return nil, e.fail(op, fmt.Errorf("%w: relatedId is required", ErrInvalidInput))
	}
	if err := validatePromotionIDs(in.PromotionIDs); err != nil {
		return nil, e.fail(op, err)
	}

	var tx *Transaction
	err := e.store.RunAtomically(ctx, func(s Store) error {
		target, err := resolveAccount(ctx, s, in.Target)
		if err != nil {
			return err
		}
		related, err := s.GetTransaction(ctx, in.RelatedID)
		if err != nil {
			return err
		}
		if related.UserID != target.ID {
			return ErrRelatedMismatch
		}
		creator, err := s.GetAccount(ctx, actor.ID)
		if err != nil {
			return err
		}

		tx = &Transaction{
			Kind:         KindAdjustment,
			UserID:       target.ID,
			CreatedByID:  creator.ID,
			RelatedID:    int64Ptr(related.ID),
			PromotionIDs: append([]int64(nil), in.PromotionIDs...),
			Remark:       in.Remark,
		}
		if in.Amount > 0 {
			tx.Awarded = int64Ptr(in.Amount)
			err = s.AddPoints(ctx, target.ID, in.Amount)
		} else {
			tx.Redeemed = int64Ptr(-in.Amount)
			err = debit(ctx, s, target.ID, -in.Amount)
		}
		if err != nil {
			return err
		}
		return s.InsertTransaction(ctx, tx)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.committed(op, tx)
	return tx, nil
}

// =============================================================================
// SUSPICIOUS FLAG
// =============================================================================

// SetSuspicious flags or clears a transaction and applies the resulting
// change in its balance effect to the owner. Setting the current value is a
// no-op.
//
// Flagging a credited row (purchase, event award, incoming transfer,
// positive adjustment) claws its points back even if the owner has since
// spent them, so this is the one path allowed to leave a balance negative.
// Clearing a flag debits only for rows that take points away: processed
// redemptions and outgoing transfers. Clearing a credited row re-credits it.
func (e *Engine) SetSuspicious(ctx context.Context, actor Actor, txID int64, flag bool) (*Transaction, error) {
	const op = "set_suspicious"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}

	var (
		tx      *Transaction
		changed bool
	)
	err := e.store.RunAtomically(ctx, func(s Store) error {
		var err error
		tx, err = s.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Suspicious == flag {
			return nil
		}

		before := tx.Effect()
		changed, err = s.SetSuspicious(ctx, tx.ID, flag)
		if err != nil {
			return err
		}
		if !changed {
			tx, err = s.GetTransaction(ctx, txID)
			return err
		}
		tx.Suspicious = flag

		if delta := tx.Effect() - before; delta != 0 {
			return s.AddPoints(ctx, tx.UserID, delta)
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	if changed {
		e.committed(op, tx)
	}
	return tx, nil
}

// GetTransaction returns one ledger row. Managers only.
func (e *Engine) GetTransaction(ctx context.Context, actor Actor, txID int64) (*Transaction, error) {
	const op = "get_transaction"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, e.fail(op, err)
	}
	return tx, nil
}
