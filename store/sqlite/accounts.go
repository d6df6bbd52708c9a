package sqlite

import (
	"context"
	"fmt"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type accountRow struct {
	ID         int64  `db:"id"`
	Utorid     string `db:"utorid"`
	Name       string `db:"name"`
	Email      string `db:"email"`
	Role       string `db:"role"`
	Points     int64  `db:"points"`
	Verified   bool   `db:"verified"`
	Suspicious bool   `db:"suspicious"`
	CreatedAt  string `db:"created_at"`
}

func (r accountRow) toAccount() (ledger.Account, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("account %d: %w", r.ID, err)
	}
	return ledger.Account{
		ID:         r.ID,
		Utorid:     r.Utorid,
		Name:       r.Name,
		Email:      r.Email,
		Role:       ledger.Role(r.Role),
		Points:     r.Points,
		Verified:   r.Verified,
		Suspicious: r.Suspicious,
		CreatedAt:  createdAt,
	}, nil
}

const accountColumns = `id, utorid, name, email, role, points, verified, suspicious, created_at`

func (q queries) CreateAccount(ctx context.Context, a *ledger.Account) error {
	created, createdAt := stamp(a.CreatedAt)
	if a.Role == "" {
		a.Role = ledger.RoleRegular
	}
	id, err := q.insert(ctx, `
		INSERT INTO accounts (utorid, name, email, role, points, verified, suspicious, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Utorid, a.Name, a.Email, string(a.Role), a.Points, a.Verified, a.Suspicious, createdAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateUtorid
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	a.ID = id
	a.CreatedAt = created
	return nil
}

func (q queries) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	var row accountRow
	if err := q.get(ctx, &row, ledger.ErrAccountNotFound,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id); err != nil {
		return nil, err
	}
	a, err := row.toAccount()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q queries) GetAccountByUtorid(ctx context.Context, utorid string) (*ledger.Account, error) {
	var row accountRow
	if err := q.get(ctx, &row, ledger.ErrAccountNotFound,
		`SELECT `+accountColumns+` FROM accounts WHERE utorid = ?`, utorid); err != nil {
		return nil, err
	}
	a, err := row.toAccount()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []accountRow
	if err := q.all(ctx, &rows, `SELECT `+accountColumns+` FROM accounts ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]ledger.Account, len(rows))
	for i, r := range rows {
		a, err := r.toAccount()
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func (q queries) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	ok, err := q.exec(ctx, `
		UPDATE accounts SET email = ?, role = ?, verified = ?, suspicious = ?
		WHERE id = ?`,
		a.Email, string(a.Role), a.Verified, a.Suspicious, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if !ok {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (q queries) AddPoints(ctx context.Context, id int64, delta int64) error {
	ok, err := q.exec(ctx, `UPDATE accounts SET points = points + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("failed to add points: %w", err)
	}
	if !ok {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (q queries) DebitPoints(ctx context.Context, id int64, amount int64) (bool, error) {
	ok, err := q.exec(ctx, `UPDATE accounts SET points = points - ? WHERE id = ? AND points >= ?`, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit points: %w", err)
	}
	return ok, nil
}
