package ledger

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var utoridPattern = regexp.MustCompile(`^[A-Za-z0-9]{7,8}$`)

// Register creates a regular, unverified account with a zero balance.
func (e *Engine) Register(ctx context.Context, actor Actor, a Account) (*Account, error) {
	const op = "register"
	if err := requireRole(actor, RoleCashier); err != nil {
		return nil, e.fail(op, err)
	}
	a.Utorid = strings.TrimSpace(a.Utorid)
	a.Name = strings.TrimSpace(a.Name)
	switch {
	case !utoridPattern.MatchString(a.Utorid):
		return nil, e.fail(op, fmt.Errorf("%w: utorid must be 7-8 alphanumeric characters", ErrInvalidInput))
	case a.Name == "" || len(a.Name) > 50:
		return nil, e.fail(op, fmt.Errorf("%w: name must be 1-50 characters", ErrInvalidInput))
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return nil, e.fail(op, fmt.Errorf("%w: email is invalid", ErrInvalidInput))
	}
	a.Role = RoleRegular
	a.Points = 0
	a.Verified = false
	a.Suspicious = false
	if err := e.store.CreateAccount(ctx, &a); err != nil {
		return nil, e.fail(op, err)
	}
	e.log.WithField("user_id", a.ID).Info("account registered")
	return &a, nil
}

func (e *Engine) GetAccount(ctx context.Context, id int64) (*Account, error) {
	a, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, e.fail("get_account", err)
	}
	return a, nil
}

func (e *Engine) GetAccountByUtorid(ctx context.Context, utorid string) (*Account, error) {
	a, err := e.store.GetAccountByUtorid(ctx, utorid)
	if err != nil {
		return nil, e.fail("get_account", err)
	}
	return a, nil
}

func (e *Engine) ListAccounts(ctx context.Context) ([]Account, error) {
	as, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, e.fail("list_accounts", err)
	}
	return as, nil
}

// AccountPatch carries the manager-editable fields; nil means unchanged.
type AccountPatch struct {
	Email      *string
	Verified   *bool
	Suspicious *bool
	Role       *Role
}

// UpdateAccount applies a manager edit.
//
// Managers may assign regular and cashier; superusers any role. Verified can
// only be switched on. A suspicious account cannot hold the cashier role.
func (e *Engine) UpdateAccount(ctx context.Context, actor Actor, id int64, patch AccountPatch) (*Account, error) {
	const op = "update_account"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	if patch.Verified != nil && !*patch.Verified {
		return nil, e.fail(op, fmt.Errorf("%w: verified can only be set to true", ErrInvalidInput))
	}
	if patch.Role != nil {
		if patch.Role.Level() == 0 {
			return nil, e.fail(op, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *patch.Role))
		}
		if !actor.Role.AtLeast(RoleSuperuser) && patch.Role.Level() > RoleCashier.Level() {
			return nil, e.fail(op, ErrRoleNotAssignable)
		}
	}
	if patch.Email != nil {
		if _, err := mail.ParseAddress(*patch.Email); err != nil {
			return nil, e.fail(op, fmt.Errorf("%w: email is invalid", ErrInvalidInput))
		}
	}

	var a *Account
	err := e.store.RunAtomically(ctx, func(s Store) error {
		var err error
		if a, err = s.GetAccount(ctx, id); err != nil {
			return err
		}
		if patch.Email != nil {
			a.Email = *patch.Email
		}
		if patch.Verified != nil {
			a.Verified = true
		}
		if patch.Suspicious != nil {
			a.Suspicious = *patch.Suspicious
		}
		if patch.Role != nil {
			a.Role = *patch.Role
		}
		if patch.Role != nil && *patch.Role == RoleCashier && a.Suspicious {
			return ErrSuspiciousCashier
		}
		return s.UpdateAccount(ctx, a)
	})
	if err != nil {
		return nil, e.fail(op, err)
	}
	e.log.WithField("user_id", a.ID).Info("account updated")
	return a, nil
}
