package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// =============================================================================
// EVENT POOL
// =============================================================================
//
// An event carries a points budget. Awards draw it down through
// ReserveEventPoints, so pointsRemain + pointsAwarded == points holds for
// every award. Budget edits add their delta to both points and pointsRemain.

func (e *Engine) CreateEvent(ctx context.Context, actor Actor, ev Event) (*Event, error) {
	const op = "create_event"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	switch {
	case strings.TrimSpace(ev.Name) == "":
		return nil, e.fail(op, fmt.Errorf("%w: name is required", ErrInvalidInput))
	case !ev.EndTime.After(ev.StartTime):
		return nil, e.fail(op, fmt.Errorf("%w: end time must be after start time", ErrInvalidInput))
	case ev.Points <= 0:
		return nil, e.fail(op, ErrInvalidAmount)
	case ev.Capacity != nil && *ev.Capacity <= 0:
		return nil, e.fail(op, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput))
	}
	ev.PointsRemain = ev.Points
	ev.PointsAwarded = 0
	if err := e.store.CreateEvent(ctx, &ev); err != nil {
		return nil, e.fail(op, err)
	}
	e.log.WithField("event_id", ev.ID).Info("event created")
	return &ev, nil
}

// GetEvent returns an event and its organizer IDs. An unpublished event is
// reported as not found unless actor is a manager, an organizer or a guest.
func (e *Engine) GetEvent(ctx context.Context, actor Actor, id int64) (*Event, []int64, error) {
	const op = "get_event"
	ev, err := e.store.GetEvent(ctx, id)
	if err != nil {
		return nil, nil, e.fail(op, err)
	}
	organizers, err := e.store.ListOrganizers(ctx, id)
	if err != nil {
		return nil, nil, e.fail(op, err)
	}
	if !ev.Published && !actor.Role.AtLeast(RoleManager) && !containsID(organizers, actor.ID) {
		guest, err := e.store.IsGuest(ctx, id, actor.ID)
		if err != nil {
			return nil, nil, e.fail(op, err)
		}
		if !guest {
			return nil, nil, e.fail(op, ErrEventNotFound)
		}
	}
	return ev, organizers, nil
}

// SetEventBudget changes the event's total points to newPoints. The change
// is refused if already-awarded points would exceed the new total.
func (e *Engine) SetEventBudget(ctx context.Context, actor Actor, eventID, newPoints int64) (*Event, error) {
	const op = "set_event_budget"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	if newPoints <= 0 {
		return nil, e.fail(op, ErrInvalidAmount)
	}
	var ev *Event
	err := e.store.RunAtomically(ctx, func(s Store) error {
		cur, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := setBudget(ctx, s, cur, newPoints); err != nil {
			return err
		}
		ev, err = s.GetEvent(ctx, eventID)
		return err
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	return ev, nil
}

func setBudget(ctx context.Context, s EventStore, cur *Event, newPoints int64) error {
	delta := newPoints - cur.Points
	ok, err := s.AdjustEventBudget(ctx, cur.ID, delta)
	if err != nil {
		return err
	}
	if !ok {
		return &BudgetExceededError{EventID: cur.ID, Remaining: cur.PointsRemain, Requested: -delta}
	}
	return nil
}

// =============================================================================
// EDITS
// =============================================================================

// EventPatch lists the fields to change. Nil fields are left as they are.
type EventPatch struct {
	Name        *string
	Description *string
	Location    *string
	StartTime   *time.Time
	EndTime     *time.Time
	Capacity    *int64

	// Points and Published are manager-only. Published can only be set to true.
	Points    *int64
	Published *bool
}

func (p EventPatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.Location == nil &&
		p.StartTime == nil && p.EndTime == nil && p.Capacity == nil &&
		p.Points == nil && p.Published == nil
}

// touchesDetails reports whether the patch edits fields frozen once the
// event has started.
func (p EventPatch) touchesDetails() bool {
	return p.Name != nil || p.Description != nil || p.Location != nil ||
		p.StartTime != nil || p.Capacity != nil
}

// UpdateEvent applies patch to the event. Managers and the event's
// organizers may edit details; budget and publication are manager-only.
func (e *Engine) UpdateEvent(ctx context.Context, actor Actor, eventID int64, patch EventPatch) (*Event, error) {
	const op = "update_event"
	if patch.empty() {
		return nil, e.fail(op, fmt.Errorf("%w: no fields to update", ErrInvalidInput))
	}
	if (patch.Points != nil || patch.Published != nil) && !actor.Role.AtLeast(RoleManager) {
		return nil, e.fail(op, ErrForbidden)
	}
	switch {
	case patch.Name != nil && strings.TrimSpace(*patch.Name) == "":
		return nil, e.fail(op, fmt.Errorf("%w: name is required", ErrInvalidInput))
	case patch.Capacity != nil && *patch.Capacity <= 0:
		return nil, e.fail(op, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput))
	case patch.Points != nil && *patch.Points <= 0:
		return nil, e.fail(op, ErrInvalidAmount)
	case patch.Published != nil && !*patch.Published:
		return nil, e.fail(op, fmt.Errorf("%w: published can only be set to true", ErrInvalidInput))
	}

	now := e.now()
	var ev *Event
	err := e.store.RunAtomically(ctx, func(s Store) error {
		if err := e.requireEventStaff(ctx, s, actor, eventID); err != nil {
			return err
		}
		cur, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := applyEventPatch(ctx, s, cur, patch, now); err != nil {
			return err
		}
		if err := s.UpdateEvent(ctx, cur); err != nil {
			return err
		}
		if patch.Points != nil {
			if err := setBudget(ctx, s, cur, *patch.Points); err != nil {
				return err
			}
		}
		ev, err = s.GetEvent(ctx, eventID)
		return err
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.log.WithField("event_id", eventID).Info("event updated")
	return ev, nil
}

// applyEventPatch checks patch against the event's schedule and copies the
// descriptive fields onto ev.
func applyEventPatch(ctx context.Context, s EventStore, ev *Event, patch EventPatch, now time.Time) error {
	started := !now.Before(ev.StartTime)
	if started && patch.touchesDetails() {
		return ErrEventStarted
	}
	if ev.Ended(now) && patch.EndTime != nil {
		return ErrEventEnded
	}

	start, end := ev.StartTime, ev.EndTime
	if patch.StartTime != nil {
		if patch.StartTime.Before(now) {
			return fmt.Errorf("%w: start time cannot be in the past", ErrInvalidInput)
		}
		start = *patch.StartTime
	}
	if patch.EndTime != nil {
		if patch.EndTime.Before(now) {
			return fmt.Errorf("%w: end time cannot be in the past", ErrInvalidInput)
		}
		end = *patch.EndTime
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidInput)
	}

	if patch.Capacity != nil {
		guests, err := s.ListGuests(ctx, ev.ID)
		if err != nil {
			return err
		}
		if int64(len(guests)) > *patch.Capacity {
			return ErrCapacityBelowGuests
		}
		ev.Capacity = patch.Capacity
	}
	if patch.Name != nil {
		ev.Name = *patch.Name
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Location != nil {
		ev.Location = *patch.Location
	}
	if patch.Published != nil {
		ev.Published = true
	}
	ev.StartTime, ev.EndTime = start, end
	return nil
}

// DeleteEvent removes an unpublished event that has not awarded any points.
func (e *Engine) DeleteEvent(ctx context.Context, actor Actor, eventID int64) error {
	const op = "delete_event"
	if err := requireRole(actor, RoleManager); err != nil {
		return e.fail(op, err)
	}
	err := e.store.RunAtomically(ctx, func(s Store) error {
		ev, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		switch {
		case ev.Published:
			return ErrEventPublished
		case ev.PointsAwarded > 0:
			return ErrEventAwarded
		}
		return s.DeleteEvent(ctx, eventID)
	})
	if err != nil {
		return e.fail(op, err)
	}
	e.log.WithField("event_id", eventID).Info("event deleted")
	return nil
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func (e *Engine) AddOrganizer(ctx context.Context, actor Actor, eventID int64, who AccountRef) (*Account, error) {
	const op = "add_organizer"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	var user *Account
	err := e.store.RunAtomically(ctx, func(s Store) error {
		ev, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if user, err = resolveAccount(ctx, s, who); err != nil {
			return err
		}
		if ev.Ended(e.now()) {
			return ErrEventEnded
		}
		guest, err := s.IsGuest(ctx, eventID, user.ID)
		if err != nil {
			return err
		}
		if guest {
			return ErrOrganizerIsGuest
		}
		return s.AddOrganizer(ctx, eventID, user.ID)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	return user, nil
}

// RemoveOrganizer takes userID off the event's organizer list. Managers only.
func (e *Engine) RemoveOrganizer(ctx context.Context, actor Actor, eventID, userID int64) error {
	const op = "remove_organizer"
	if err := requireRole(actor, RoleManager); err != nil {
		return e.fail(op, err)
	}
	err := e.store.RunAtomically(ctx, func(s Store) error {
		if _, err := s.GetEvent(ctx, eventID); err != nil {
			return err
		}
		if _, err := s.GetAccount(ctx, userID); err != nil {
			return err
		}
		removed, err := s.RemoveOrganizer(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotOrganizer
		}
		return nil
	})
	return e.fail(op, err)
}

// AddGuest registers who as a guest. Managers and the event's organizers only.
func (e *Engine) AddGuest(ctx context.Context, actor Actor, eventID int64, who AccountRef) (*Account, error) {
	const op = "add_guest"
	var user *Account
	err := e.store.RunAtomically(ctx, func(s Store) error {
		if err := e.requireEventStaff(ctx, s, actor, eventID); err != nil {
			return err
		}
		var err error
		if user, err = resolveAccount(ctx, s, who); err != nil {
			return err
		}
		return e.addGuest(ctx, s, eventID, user.ID)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	return user, nil
}

// JoinEvent registers the actor as a guest.
func (e *Engine) JoinEvent(ctx context.Context, actor Actor, eventID int64) error {
	err := e.store.RunAtomically(ctx, func(s Store) error {
		return e.addGuest(ctx, s, eventID, actor.ID)
	})
	return e.fail("join_event", err)
}

// LeaveEvent removes the actor from the guest list.
func (e *Engine) LeaveEvent(ctx context.Context, actor Actor, eventID int64) error {
	err := e.store.RunAtomically(ctx, func(s Store) error {
		ev, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Ended(e.now()) {
			return ErrEventEnded
		}
		removed, err := s.RemoveGuest(ctx, eventID, actor.ID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotGuest
		}
		return nil
	})
	return e.fail("leave_event", err)
}

func (e *Engine) addGuest(ctx context.Context, s Store, eventID, userID int64) error {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return err
	}
	if ev.Ended(e.now()) {
		return ErrEventEnded
	}
	organizer, err := s.IsOrganizer(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if organizer {
		return ErrGuestIsOrganizer
	}
	already, err := s.IsGuest(ctx, eventID, userID)
	if err != nil || already {
		return err
	}
	if ev.Capacity != nil {
		guests, err := s.ListGuests(ctx, eventID)
		if err != nil {
			return err
		}
		if int64(len(guests)) >= *ev.Capacity {
			return ErrEventFull
		}
	}
	return s.AddGuest(ctx, eventID, userID)
}

// requireEventStaff allows managers and organizers of eventID.
func (e *Engine) requireEventStaff(ctx context.Context, s Store, actor Actor, eventID int64) error {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return err
	}
	if actor.Role.AtLeast(RoleManager) {
		return nil
	}
	organizer, err := s.IsOrganizer(ctx, eventID, actor.ID)
	if err != nil {
		return err
	}
	if !organizer {
		return ErrForbidden
	}
	return nil
}

// =============================================================================
// AWARDS
// =============================================================================

type AwardInput struct {
	// Recipient is ignored when All is set.
	Recipient AccountRef
	All       bool
	Points    int64
	Remark    string
}

// AwardEvent credits points from the event's pool to one guest or to every
// guest. The whole award is reserved from the pool up front; if it does not
// fit, nobody is credited.
func (e *Engine) AwardEvent(ctx context.Context, actor Actor, eventID int64, in AwardInput) ([]Transaction, error) {
	const op = "award_event"
	if in.Points <= 0 {
		return nil, e.fail(op, ErrInvalidAmount)
	}

	var txs []Transaction
	err := e.store.RunAtomically(ctx, func(s Store) error {
		if err := e.requireEventStaff(ctx, s, actor, eventID); err != nil {
			return err
		}
		ev, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}

		var recipients []int64
		if in.All {
			if recipients, err = s.ListGuests(ctx, eventID); err != nil {
				return err
			}
			if len(recipients) == 0 {
				return ErrNoGuests
			}
		} else {
			user, err := resolveAccount(ctx, s, in.Recipient)
			if err != nil {
				return err
			}
			guest, err := s.IsGuest(ctx, eventID, user.ID)
			if err != nil {
				return err
			}
			if !guest {
				return ErrNotGuest
			}
			recipients = []int64{user.ID}
		}

		n := int64(len(recipients))
		if in.Points > math.MaxInt64/n {
			return &BudgetExceededError{EventID: eventID, Remaining: ev.PointsRemain, Requested: math.MaxInt64}
		}
		total := in.Points * n
		if total > ev.PointsRemain {
			return &BudgetExceededError{EventID: eventID, Remaining: ev.PointsRemain, Requested: total}
		}
		ok, err := s.ReserveEventPoints(ctx, eventID, total)
		if err != nil {
			return err
		}
		if !ok {
			return &BudgetExceededError{EventID: eventID, Remaining: ev.PointsRemain, Requested: total}
		}

		txs = make([]Transaction, 0, n)
		for _, uid := range recipients {
			if err := s.AddPoints(ctx, uid, in.Points); err != nil {
				return err
			}
			tx := Transaction{
				Kind:        KindEvent,
				UserID:      uid,
				CreatedByID: actor.ID,
				Awarded:     int64Ptr(in.Points),
				RelatedID:   int64Ptr(eventID),
				Remark:      in.Remark,
			}
			if err := s.InsertTransaction(ctx, &tx); err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	for i := range txs {
		e.committed(op, &txs[i])
	}
	return txs, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
