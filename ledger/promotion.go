package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EARNING RULES
// =============================================================================

// computeEarned returns the points a purchase earns: the base rate plus every
// qualifying automatic promotion plus every requested one-time promotion.
// One-time promotions are validated here and not yet marked used.
func (e *Engine) computeEarned(ctx context.Context, s PromotionStore, userID int64, spent decimal.Decimal, oneTime []int64) (int64, error) {
	now := e.now()
	earned := spent.Mul(e.cfg.BaseRate).Floor().IntPart()

	autos, err := s.ActivePromotions(ctx, PromotionAutomatic, now)
	if err != nil {
		return 0, err
	}
	for _, p := range autos {
		if p.MeetsMinimum(spent) {
			earned += p.Bonus(spent)
		}
	}

	for _, id := range oneTime {
		p, err := s.GetPromotion(ctx, id)
		if errors.Is(err, ErrPromotionNotFound) {
			return 0, &PromotionError{PromotionID: id, Err: ErrPromotionInvalid}
		}
		if err != nil {
			return 0, err
		}
		if p.Kind != PromotionOneTime {
			return 0, &PromotionError{PromotionID: id, Err: fmt.Errorf("%w: not a one-time promotion", ErrPromotionInvalid)}
		}
		if !p.ActiveAt(now) {
			return 0, &PromotionError{PromotionID: id, Err: fmt.Errorf("%w: not active", ErrPromotionInvalid)}
		}
		used, err := s.IsPromotionUsed(ctx, userID, id)
		if err != nil {
			return 0, err
		}
		if used {
			return 0, &PromotionError{PromotionID: id, Err: ErrPromotionUsed}
		}
		if !p.MeetsMinimum(spent) {
			return 0, &PromotionError{PromotionID: id, Err: ErrPromotionMinSpending}
		}
		earned += p.Bonus(spent)
	}
	return earned, nil
}

// =============================================================================
// CATALOG ADMINISTRATION
// =============================================================================

// PromotionPatch carries the fields of an update; nil means unchanged.
type PromotionPatch struct {
	Name        *string
	Description *string
	Kind        *PromotionKind
	StartTime   *time.Time
	EndTime     *time.Time
	MinSpending *decimal.Decimal
	Rate        *decimal.Decimal
	Points      *int64
}

func validatePromotion(p *Promotion, now time.Time, checkStart bool) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case strings.TrimSpace(p.Description) == "":
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	case p.Kind != PromotionAutomatic && p.Kind != PromotionOneTime:
		return fmt.Errorf("%w: type must be automatic or one-time", ErrInvalidInput)
	case checkStart && p.StartTime.Before(now):
		return fmt.Errorf("%w: start time is in the past", ErrInvalidInput)
	case !p.EndTime.After(p.StartTime):
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidInput)
	case p.MinSpending != nil && p.MinSpending.IsNegative():
		return fmt.Errorf("%w: minSpending must not be negative", ErrInvalidInput)
	case p.Rate != nil && !p.Rate.IsPositive():
		return fmt.Errorf("%w: rate must be positive", ErrInvalidInput)
	case p.Points != nil && *p.Points < 0:
		return fmt.Errorf("%w: points must not be negative", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) CreatePromotion(ctx context.Context, actor Actor, p Promotion) (*Promotion, error) {
	const op = "create_promotion"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	if err := validatePromotion(&p, e.now(), true); err != nil {
		return nil, e.fail(op, err)
	}
	if err := e.store.CreatePromotion(ctx, &p); err != nil {
		return nil, e.fail(op, err)
	}
	e.log.WithField("promotion_id", p.ID).Info("promotion created")
	return &p, nil
}

// UpdatePromotion applies patch to a promotion that has not started yet.
func (e *Engine) UpdatePromotion(ctx context.Context, actor Actor, id int64, patch PromotionPatch) (*Promotion, error) {
	const op = "update_promotion"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}

	var p *Promotion
	err := e.store.RunAtomically(ctx, func(s Store) error {
		var err error
		p, err = s.GetPromotion(ctx, id)
		if err != nil {
			return err
		}
		now := e.now()
		if p.Started(now) {
			return ErrPromotionStarted
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Kind != nil {
			p.Kind = *patch.Kind
		}
		if patch.StartTime != nil {
			p.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			p.EndTime = *patch.EndTime
		}
		if patch.MinSpending != nil {
			p.MinSpending = patch.MinSpending
		}
		if patch.Rate != nil {
			p.Rate = patch.Rate
		}
		if patch.Points != nil {
			p.Points = patch.Points
		}
		if err := validatePromotion(p, now, patch.StartTime != nil); err != nil {
			return err
		}
		return s.UpdatePromotion(ctx, p)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	return p, nil
}

func (e *Engine) DeletePromotion(ctx context.Context, actor Actor, id int64) error {
	const op = "delete_promotion"
	if err := requireRole(actor, RoleManager); err != nil {
		return e.fail(op, err)
	}
	err := e.store.RunAtomically(ctx, func(s Store) error {
		p, err := s.GetPromotion(ctx, id)
		if err != nil {
			return err
		}
		if p.Started(e.now()) {
			return ErrPromotionStarted
		}
		return s.DeletePromotion(ctx, id)
	})
	return e.fail(op, err)
}

func (e *Engine) GetPromotion(ctx context.Context, id int64) (*Promotion, error) {
	p, err := e.store.GetPromotion(ctx, id)
	if err != nil {
		return nil, e.fail("get_promotion", err)
	}
	return p, nil
}

// ListPromotions returns the whole catalog for managers and, for everyone
// else, the promotions they can still use right now.
func (e *Engine) ListPromotions(ctx context.Context, actor Actor) ([]Promotion, error) {
	if actor.Role.AtLeast(RoleManager) {
		ps, err := e.store.ListPromotions(ctx)
		if err != nil {
			return nil, e.fail("list_promotions", err)
		}
		return ps, nil
	}
	return e.UsablePromotions(ctx, actor)
}

// UsablePromotions returns active promotions, minus one-time promotions the
// actor has already used.
func (e *Engine) UsablePromotions(ctx context.Context, actor Actor) ([]Promotion, error) {
	const op = "usable_promotions"
	now := e.now()
	autos, err := e.store.ActivePromotions(ctx, PromotionAutomatic, now)
	if err != nil {
		return nil, e.fail(op, err)
	}
	onetime, err := e.store.ActivePromotions(ctx, PromotionOneTime, now)
	if err != nil {
		return nil, e.fail(op, err)
	}
	out := append([]Promotion(nil), autos...)
	for _, p := range onetime {
		used, err := e.store.IsPromotionUsed(ctx, actor.ID, p.ID)
		if err != nil {
			return nil, e.fail(op, err)
		}
		if !used {
			out = append(out, p)
		}
	}
	return out, nil
}
