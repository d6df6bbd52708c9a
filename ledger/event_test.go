package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/ledger"
)

func (f *fixture) event(t *testing.T, points int64, capacity *int64) *ledger.Event {
	t.Helper()
	ev, err := f.engine.CreateEvent(context.Background(), f.manager, ledger.Event{
		Name:      "Hackathon",
		Location:  "BA 1130",
		Capacity:  capacity,
		Points:    points,
		StartTime: testNow.Add(time.Hour),
		EndTime:   testNow.Add(5 * time.Hour),
	})
	require.NoError(t, err)
	return ev
}

func assertPoolConserved(t *testing.T, f *fixture, eventID int64) *ledger.Event {
	t.Helper()
	ev, err := f.store.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	assert.True(t, ev.Conserved(), "remain %d + awarded %d != points %d", ev.PointsRemain, ev.PointsAwarded, ev.Points)
	return ev
}

// =============================================================================
// CREATION & BUDGET
// =============================================================================

func TestCreateEvent_Validation(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	base := ledger.Event{Name: "e", StartTime: testNow, EndTime: testNow.Add(time.Hour), Points: 10}

	ev, err := f.engine.CreateEvent(ctx, f.manager, base)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ev.PointsRemain)
	assert.Equal(t, int64(0), ev.PointsAwarded)

	bad := base
	bad.EndTime = base.StartTime
	_, err = f.engine.CreateEvent(ctx, f.manager, bad)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	bad = base
	bad.Points = 0
	_, err = f.engine.CreateEvent(ctx, f.manager, bad)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	bad = base
	bad.Capacity = i64(0)
	_, err = f.engine.CreateEvent(ctx, f.manager, bad)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = f.engine.CreateEvent(ctx, f.cashier, base)
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestSetEventBudget(t *testing.T) {
	// GIVEN: An event with 500 points, 300 of them awarded
	// WHEN: The budget is changed
	// THEN: Raising and lowering to >= 300 works; lowering below 300 is refused

	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 500, nil)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))
	_, err := f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{Recipient: ledger.AccountRef{ID: f.alice.ID}, Points: 300})
	require.NoError(t, err)

	got, err := f.engine.SetEventBudget(ctx, f.manager, ev.ID, 800)
	require.NoError(t, err)
	assert.Equal(t, int64(800), got.Points)
	assert.Equal(t, int64(500), got.PointsRemain)

	got, err = f.engine.SetEventBudget(ctx, f.manager, ev.ID, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.PointsRemain)

	_, err = f.engine.SetEventBudget(ctx, f.manager, ev.ID, 299)
	assert.ErrorIs(t, err, ledger.ErrBudgetExceeded)
	assertPoolConserved(t, f, ev.ID)
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func TestMembership_OrganizersAndGuestsAreDisjoint(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)

	_, err := f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{Utorid: "bobby002"})
	require.NoError(t, err)

	_, err = f.engine.AddGuest(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.bob.ID})
	assert.ErrorIs(t, err, ledger.ErrGuestIsOrganizer)
	assert.ErrorIs(t, f.engine.JoinEvent(ctx, f.actor(f.bob), ev.ID), ledger.ErrGuestIsOrganizer)

	// Organizers may add guests.
	_, err = f.engine.AddGuest(ctx, f.actor(f.bob), ev.ID, ledger.AccountRef{ID: f.alice.ID})
	require.NoError(t, err)

	_, err = f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.alice.ID})
	assert.ErrorIs(t, err, ledger.ErrOrganizerIsGuest)

	_, organizers, err := f.engine.GetEvent(ctx, f.manager, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.bob.ID}, organizers)
}

func TestMembership_CapacityAndLeave(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, i64(1))

	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID), "joining twice is a no-op")
	assert.ErrorIs(t, f.engine.JoinEvent(ctx, f.actor(f.bob), ev.ID), ledger.ErrEventFull)

	require.NoError(t, f.engine.LeaveEvent(ctx, f.actor(f.alice), ev.ID))
	assert.ErrorIs(t, f.engine.LeaveEvent(ctx, f.actor(f.alice), ev.ID), ledger.ErrNotGuest)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.bob), ev.ID))
}

func TestMembership_EndedEventRejectsChanges(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev, err := f.engine.CreateEvent(ctx, f.manager, ledger.Event{
		Name: "past", Points: 10, StartTime: testNow.Add(-3 * time.Hour), EndTime: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID), ledger.ErrEventEnded)
	_, err = f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.bob.ID})
	assert.ErrorIs(t, err, ledger.ErrEventEnded)
}

func TestAddGuest_RequiresManagerOrOrganizer(t *testing.T) {
	f := newTestEngine(t)
	ev := f.event(t, 100, nil)

	_, err := f.engine.AddGuest(context.Background(), f.cashier, ev.ID, ledger.AccountRef{ID: f.alice.ID})
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.engine.AddGuest(context.Background(), f.manager, 9999, ledger.AccountRef{ID: f.alice.ID})
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)
}

func TestRemoveOrganizer(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)
	_, err := f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.bob.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.RemoveOrganizer(ctx, f.actor(f.bob), ev.ID, f.bob.ID), ledger.ErrForbidden)
	require.NoError(t, f.engine.RemoveOrganizer(ctx, f.manager, ev.ID, f.bob.ID))
	assert.ErrorIs(t, f.engine.RemoveOrganizer(ctx, f.manager, ev.ID, f.bob.ID), ledger.ErrNotOrganizer)
	assert.ErrorIs(t, f.engine.RemoveOrganizer(ctx, f.manager, ev.ID, 9999), ledger.ErrAccountNotFound)
	assert.ErrorIs(t, f.engine.RemoveOrganizer(ctx, f.manager, 9999, f.bob.ID), ledger.ErrEventNotFound)

	// A removed organizer loses event staff rights.
	_, err = f.engine.AddGuest(ctx, f.actor(f.bob), ev.ID, ledger.AccountRef{ID: f.alice.ID})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

// =============================================================================
// VISIBILITY & EDITS
// =============================================================================

func TestGetEvent_UnpublishedVisibleToMembersOnly(t *testing.T) {
	// GIVEN: An unpublished event with bob as organizer
	// WHEN: Different actors read it
	// THEN: Managers, organizers and guests see it; anyone else gets not found

	f := newTestEngine(t)
	ctx := context.Background()
	carol := f.account(t, "carol003", ledger.RoleRegular, true)
	ev := f.event(t, 100, nil)
	_, err := f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.bob.ID})
	require.NoError(t, err)

	_, _, err = f.engine.GetEvent(ctx, f.actor(f.alice), ev.ID)
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)
	assert.True(t, ledger.IsNotFound(err))

	_, _, err = f.engine.GetEvent(ctx, f.manager, ev.ID)
	require.NoError(t, err)
	_, _, err = f.engine.GetEvent(ctx, f.actor(f.bob), ev.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))
	_, _, err = f.engine.GetEvent(ctx, f.actor(f.alice), ev.ID)
	require.NoError(t, err)

	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Published: boolPtr(true)})
	require.NoError(t, err)
	got, _, err := f.engine.GetEvent(ctx, f.actor(carol), ev.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)
}

func TestUpdateEvent_Permissions(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)
	_, err := f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.bob.ID})
	require.NoError(t, err)
	organizer := f.actor(f.bob)

	got, err := f.engine.UpdateEvent(ctx, organizer, ev.ID, ledger.EventPatch{Name: strPtr("Demo Day"), Location: strPtr("MY 150")})
	require.NoError(t, err)
	assert.Equal(t, "Demo Day", got.Name)
	assert.Equal(t, "MY 150", got.Location)

	_, err = f.engine.UpdateEvent(ctx, organizer, ev.ID, ledger.EventPatch{Published: boolPtr(true)})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = f.engine.UpdateEvent(ctx, organizer, ev.ID, ledger.EventPatch{Points: i64(200)})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
	_, err = f.engine.UpdateEvent(ctx, f.actor(f.alice), ev.ID, ledger.EventPatch{Name: strPtr("mine")})
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Published: boolPtr(false)})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = f.engine.UpdateEvent(ctx, f.manager, 9999, ledger.EventPatch{Name: strPtr("x")})
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)

	got, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Published: boolPtr(true), Points: i64(250)})
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.Equal(t, int64(250), got.Points)
	assertPoolConserved(t, f, ev.ID)
}

func TestUpdateEvent_ScheduleAndCapacityRules(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.bob), ev.ID))

	past := testNow.Add(-time.Minute)
	_, err := f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{StartTime: &past})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	early := ev.StartTime.Add(-30 * time.Minute)
	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{EndTime: &early})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Capacity: i64(1)})
	assert.ErrorIs(t, err, ledger.ErrCapacityBelowGuests)

	got, err := f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Capacity: i64(2), StartTime: &early})
	require.NoError(t, err)
	require.NotNil(t, got.Capacity)
	assert.Equal(t, int64(2), *got.Capacity)
	assert.True(t, got.StartTime.Equal(early))
}

func TestUpdateEvent_StartedEventFreezesDetails(t *testing.T) {
	// GIVEN: An event that started an hour ago and ends in an hour
	// WHEN: A manager edits it
	// THEN: Details are frozen; end time and budget can still change

	f := newTestEngine(t)
	ctx := context.Background()
	ev, err := f.engine.CreateEvent(ctx, f.manager, ledger.Event{
		Name: "running", Points: 100, StartTime: testNow.Add(-time.Hour), EndTime: testNow.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Name: strPtr("renamed")})
	assert.ErrorIs(t, err, ledger.ErrEventStarted)
	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Capacity: i64(10)})
	assert.ErrorIs(t, err, ledger.ErrEventStarted)

	later := testNow.Add(3 * time.Hour)
	got, err := f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{EndTime: &later, Points: i64(150)})
	require.NoError(t, err)
	assert.True(t, got.EndTime.Equal(later))
	assert.Equal(t, int64(150), got.PointsRemain)
}

func TestUpdateEvent_BudgetFailureRollsBackDetails(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))
	_, err := f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{Recipient: ledger.AccountRef{ID: f.alice.ID}, Points: 60})
	require.NoError(t, err)

	_, err = f.engine.UpdateEvent(ctx, f.manager, ev.ID, ledger.EventPatch{Name: strPtr("renamed"), Points: i64(50)})
	assert.ErrorIs(t, err, ledger.ErrBudgetExceeded)

	got := assertPoolConserved(t, f, ev.ID)
	assert.Equal(t, "Hackathon", got.Name)
	assert.Equal(t, int64(100), got.Points)
}

func TestDeleteEvent(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()

	draft := f.event(t, 100, nil)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), draft.ID))
	assert.ErrorIs(t, f.engine.DeleteEvent(ctx, f.cashier, draft.ID), ledger.ErrForbidden)
	require.NoError(t, f.engine.DeleteEvent(ctx, f.manager, draft.ID))
	_, _, err := f.engine.GetEvent(ctx, f.manager, draft.ID)
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)
	assert.ErrorIs(t, f.engine.DeleteEvent(ctx, f.manager, draft.ID), ledger.ErrEventNotFound)

	published := f.event(t, 100, nil)
	_, err = f.engine.UpdateEvent(ctx, f.manager, published.ID, ledger.EventPatch{Published: boolPtr(true)})
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.DeleteEvent(ctx, f.manager, published.ID), ledger.ErrEventPublished)

	awarded := f.event(t, 100, nil)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), awarded.ID))
	_, err = f.engine.AwardEvent(ctx, f.manager, awarded.ID, ledger.AwardInput{All: true, Points: 10})
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.DeleteEvent(ctx, f.manager, awarded.ID), ledger.ErrEventAwarded)
}

// =============================================================================
// AWARDS
// =============================================================================

func TestAwardEvent_SingleGuest(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 500, nil)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))

	txs, err := f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{Recipient: ledger.AccountRef{Utorid: "alice001"}, Points: 150, Remark: "winner"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.KindEvent, txs[0].Kind)
	assert.Equal(t, ev.ID, *txs[0].RelatedID)
	assert.Equal(t, int64(150), *txs[0].Awarded)

	assert.Equal(t, int64(150), f.balance(t, f.alice.ID))
	got := assertPoolConserved(t, f, ev.ID)
	assert.Equal(t, int64(350), got.PointsRemain)
	assert.Equal(t, int64(150), got.PointsAwarded)
	f.assertConsistent(t, f.alice.ID)

	_, err = f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{Recipient: ledger.AccountRef{ID: f.bob.ID}, Points: 10})
	assert.ErrorIs(t, err, ledger.ErrNotGuest)
}

func TestAwardEvent_AllGuestsIsAllOrNothing(t *testing.T) {
	// GIVEN: An event with 250 points and 3 guests
	// WHEN: 100 points are awarded to everyone (300 total)
	// THEN: The award fails with budget exceeded and no guest is credited
	//       AND an award of 80 each (240) succeeds for all three

	f := newTestEngine(t)
	ctx := context.Background()
	carol := f.account(t, "carol003", ledger.RoleRegular, false)
	ev := f.event(t, 250, nil)
	for _, a := range []*ledger.Account{f.alice, f.bob, carol} {
		require.NoError(t, f.engine.JoinEvent(ctx, f.actor(a), ev.ID))
	}

	_, err := f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{All: true, Points: 100})
	var budgetErr *ledger.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, int64(250), budgetErr.Remaining)
	assert.Equal(t, int64(300), budgetErr.Requested)
	for _, a := range []*ledger.Account{f.alice, f.bob, carol} {
		assert.Equal(t, int64(0), f.balance(t, a.ID))
	}

	txs, err := f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{All: true, Points: 80})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []int64{f.alice.ID, f.bob.ID, carol.ID}, []int64{txs[0].UserID, txs[1].UserID, txs[2].UserID})
	for _, a := range []*ledger.Account{f.alice, f.bob, carol} {
		assert.Equal(t, int64(80), f.balance(t, a.ID))
	}
	got := assertPoolConserved(t, f, ev.ID)
	assert.Equal(t, int64(10), got.PointsRemain)
}

func TestAwardEvent_Rejections(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)

	_, err := f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{All: true, Points: 10})
	assert.ErrorIs(t, err, ledger.ErrNoGuests)

	_, err = f.engine.AwardEvent(ctx, f.manager, ev.ID, ledger.AwardInput{All: true, Points: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.engine.AwardEvent(ctx, f.cashier, ev.ID, ledger.AwardInput{All: true, Points: 10})
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = f.engine.AwardEvent(ctx, f.manager, 9999, ledger.AwardInput{All: true, Points: 10})
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)
}

func TestAwardEvent_OrganizerMayAward(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	ev := f.event(t, 100, nil)
	_, err := f.engine.AddOrganizer(ctx, f.manager, ev.ID, ledger.AccountRef{ID: f.bob.ID})
	require.NoError(t, err)
	require.NoError(t, f.engine.JoinEvent(ctx, f.actor(f.alice), ev.ID))

	txs, err := f.engine.AwardEvent(ctx, f.actor(f.bob), ev.ID, ledger.AwardInput{Recipient: ledger.AccountRef{ID: f.alice.ID}, Points: 25})
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, txs[0].CreatedByID)
	assert.Equal(t, int64(25), f.balance(t, f.alice.ID))
}

func strPtr(s string) *string { return &s }
