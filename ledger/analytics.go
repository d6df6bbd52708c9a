package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Analytics aggregates the whole ledger for managers. Suspicious rows and
// unprocessed redemptions are left out, matching their balance effect.
type Analytics struct {
	Accounts       int
	Purchases      int
	TotalSpent     decimal.Decimal
	AverageSpent   decimal.Decimal
	PointsIssued   int64
	PointsRedeemed int64

	// RedemptionRate is PointsRedeemed as a percentage of PointsIssued,
	// rounded to two places. Zero when nothing was issued.
	RedemptionRate decimal.Decimal
}

// Analytics replays every account's rows inside one atomic unit. Issued
// points are credits that create points (purchases, event awards and
// positive adjustments); transfers only move them and are not counted.
func (e *Engine) Analytics(ctx context.Context, actor Actor) (*Analytics, error) {
	const op = "analytics"
	if err := requireRole(actor, RoleManager); err != nil {
		return nil, e.fail(op, err)
	}
	a := &Analytics{TotalSpent: decimal.Zero}
	err := e.store.RunAtomically(ctx, func(s Store) error {
		accounts, err := s.ListAccounts(ctx)
		if err != nil {
			return err
		}
		a.Accounts = len(accounts)
		for _, acct := range accounts {
			txs, err := s.ListTransactionsByUser(ctx, acct.ID)
			if err != nil {
				return err
			}
			for _, tx := range txs {
				a.add(tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err)
	}

	a.AverageSpent = decimal.Zero
	if a.Purchases > 0 {
		a.AverageSpent = a.TotalSpent.Div(decimal.NewFromInt(int64(a.Purchases))).Round(2)
	}
	a.RedemptionRate = decimal.Zero
	if a.PointsIssued > 0 {
		a.RedemptionRate = decimal.NewFromInt(a.PointsRedeemed).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(a.PointsIssued)).
			Round(2)
	}
	return a, nil
}

func (a *Analytics) add(tx Transaction) {
	if tx.Suspicious {
		return
	}
	switch tx.Kind {
	case KindPurchase:
		a.Purchases++
		if tx.Spent != nil {
			a.TotalSpent = a.TotalSpent.Add(*tx.Spent)
		}
		a.PointsIssued += tx.Amount()
	case KindEvent:
		a.PointsIssued += tx.Amount()
	case KindAdjustment:
		if n := tx.Amount(); n > 0 {
			a.PointsIssued += n
		}
	case KindRedemption:
		if tx.IsProcessed() && tx.Redeemed != nil {
			a.PointsRedeemed += *tx.Redeemed
		}
	}
}
