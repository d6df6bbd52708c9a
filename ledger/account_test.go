package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/ledger"
)

func TestRegister(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()

	a, err := f.engine.Register(ctx, f.cashier, ledger.Account{Utorid: "newuser1", Name: "New User", Email: "new.user@mail.utoronto.ca", Points: 999, Role: ledger.RoleSuperuser})
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleRegular, a.Role, "registration always creates regular accounts")
	assert.Equal(t, int64(0), a.Points)
	assert.False(t, a.Verified)

	_, err = f.engine.Register(ctx, f.cashier, ledger.Account{Utorid: "newuser1", Name: "Dup", Email: "dup@mail.utoronto.ca"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateUtorid)

	for _, bad := range []ledger.Account{
		{Utorid: "short", Name: "x", Email: "x@mail.utoronto.ca"},
		{Utorid: "has-dash", Name: "x", Email: "x@mail.utoronto.ca"},
		{Utorid: "okayname", Name: "", Email: "x@mail.utoronto.ca"},
		{Utorid: "okayname", Name: "x", Email: "not-an-email"},
	} {
		_, err := f.engine.Register(ctx, f.cashier, bad)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput, "%+v", bad)
	}

	_, err = f.engine.Register(ctx, f.actor(f.alice), ledger.Account{Utorid: "another1", Name: "a", Email: "a@mail.utoronto.ca"})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestUpdateAccount_RoleRules(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	super := ledger.Actor{ID: f.account(t, "super001", ledger.RoleSuperuser, true).ID, Role: ledger.RoleSuperuser}
	cashierRole, managerRole := ledger.RoleCashier, ledger.RoleManager

	got, err := f.engine.UpdateAccount(ctx, f.manager, f.bob.ID, ledger.AccountPatch{Role: &cashierRole})
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleCashier, got.Role)

	_, err = f.engine.UpdateAccount(ctx, f.manager, f.bob.ID, ledger.AccountPatch{Role: &managerRole})
	assert.ErrorIs(t, err, ledger.ErrRoleNotAssignable)
	assert.Equal(t, ledger.KindPermission, ledger.KindOf(err))

	got, err = f.engine.UpdateAccount(ctx, super, f.bob.ID, ledger.AccountPatch{Role: &managerRole})
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleManager, got.Role)

	_, err = f.engine.UpdateAccount(ctx, f.cashier, f.bob.ID, ledger.AccountPatch{Verified: boolPtr(true)})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

func TestUpdateAccount_FlagRules(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	cashierRole := ledger.RoleCashier

	got, err := f.engine.UpdateAccount(ctx, f.manager, f.bob.ID, ledger.AccountPatch{Verified: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, got.Verified)

	_, err = f.engine.UpdateAccount(ctx, f.manager, f.bob.ID, ledger.AccountPatch{Verified: boolPtr(false)})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = f.engine.UpdateAccount(ctx, f.manager, f.alice.ID, ledger.AccountPatch{Suspicious: boolPtr(true)})
	require.NoError(t, err)
	_, err = f.engine.UpdateAccount(ctx, f.manager, f.alice.ID, ledger.AccountPatch{Role: &cashierRole})
	assert.ErrorIs(t, err, ledger.ErrSuspiciousCashier)

	// Clearing the flag in the same edit allows the promotion.
	got, err = f.engine.UpdateAccount(ctx, f.manager, f.alice.ID, ledger.AccountPatch{Role: &cashierRole, Suspicious: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleCashier, got.Role)

	email := "fresh@mail.utoronto.ca"
	got, err = f.engine.UpdateAccount(ctx, f.manager, f.alice.ID, ledger.AccountPatch{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, email, got.Email)

	_, err = f.engine.UpdateAccount(ctx, f.manager, 9999, ledger.AccountPatch{Email: &email})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestVerifyBalance_DetectsDrift(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	f.fund(t, f.alice.ID, 100)

	report, err := f.engine.VerifyBalance(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, report.Transactions)

	// A write that bypasses the engine leaves the rows and the counter apart.
	require.NoError(t, f.store.AddPoints(ctx, f.alice.ID, 7))
	report, err = f.engine.VerifyBalance(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, int64(7), report.Drift())
}

func TestUserTransactions_OwnerOrManager(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	f.fund(t, f.alice.ID, 10)

	txs, err := f.engine.UserTransactions(ctx, f.actor(f.alice), f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	_, err = f.engine.UserTransactions(ctx, f.actor(f.bob), f.alice.ID)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	txs, err = f.engine.UserTransactions(ctx, f.manager, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, ledger.RoleSuperuser.AtLeast(ledger.RoleManager))
	assert.True(t, ledger.RoleCashier.AtLeast(ledger.RoleCashier))
	assert.False(t, ledger.RoleRegular.AtLeast(ledger.RoleCashier))
	assert.False(t, ledger.Role("ghost").AtLeast(ledger.RoleRegular))

	r, ok := ledger.ParseRole(" Manager ")
	assert.True(t, ok)
	assert.Equal(t, ledger.RoleManager, r)
}
