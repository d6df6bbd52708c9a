package ledger

import "context"

// BalanceReport compares an account's stored balance with the balance
// replayed from its ledger rows.
type BalanceReport struct {
	AccountID    int64
	Stored       int64
	Replayed     int64
	Transactions int
}

func (r BalanceReport) Drift() int64 { return r.Stored - r.Replayed }

func (r BalanceReport) Consistent() bool { return r.Stored == r.Replayed }

// Replay sums the current effect of every row.
func Replay(txs []Transaction) int64 {
	var total int64
	for _, tx := range txs {
		total += tx.Effect()
	}
	return total
}

// VerifyBalance replays accountID's rows inside one atomic unit so the
// stored balance and the rows are read from the same state.
func (e *Engine) VerifyBalance(ctx context.Context, accountID int64) (*BalanceReport, error) {
	var report *BalanceReport
	err := e.store.RunAtomically(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		txs, err := s.ListTransactionsByUser(ctx, accountID)
		if err != nil {
			return err
		}
		report = &BalanceReport{
			AccountID:    accountID,
			Stored:       acct.Points,
			Replayed:     Replay(txs),
			Transactions: len(txs),
		}
		return nil
	})
	if err != nil {
		return nil, e.fail("verify_balance", err)
	}
	return report, nil
}

// UserTransactions returns an account's rows. Owners see their own; managers
// see anyone's.
func (e *Engine) UserTransactions(ctx context.Context, actor Actor, userID int64) ([]Transaction, error) {
	const op = "user_transactions"
	if actor.ID != userID && !actor.Role.AtLeast(RoleManager) {
		return nil, e.fail(op, ErrForbidden)
	}
	txs, err := e.store.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, e.fail(op, err)
	}
	return txs, nil
}
