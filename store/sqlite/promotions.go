package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// PROMOTION STORE
// =============================================================================

type promotionRow struct {
	ID          int64               `db:"id"`
	Name        string              `db:"name"`
	Description string              `db:"description"`
	Kind        string              `db:"kind"`
	StartTime   string              `db:"start_time"`
	EndTime     string              `db:"end_time"`
	MinSpending decimal.NullDecimal `db:"min_spending"`
	Rate        decimal.NullDecimal `db:"rate"`
	Points      sql.NullInt64       `db:"points"`
	CreatedAt   string              `db:"created_at"`
}

func (r promotionRow) toPromotion() (ledger.Promotion, error) {
	var tp timeParser
	p := ledger.Promotion{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Kind:        ledger.PromotionKind(r.Kind),
		StartTime:   tp.parse(r.StartTime),
		EndTime:     tp.parse(r.EndTime),
		MinSpending: decimalPtr(r.MinSpending),
		Rate:        decimalPtr(r.Rate),
		Points:      int64Ptr(r.Points),
		CreatedAt:   tp.parse(r.CreatedAt),
	}
	if tp.err != nil {
		return ledger.Promotion{}, fmt.Errorf("promotion %d: %w", r.ID, tp.err)
	}
	return p, nil
}

const promotionColumns = `id, name, description, kind, start_time, end_time, min_spending, rate, points, created_at`

func (q queries) CreatePromotion(ctx context.Context, p *ledger.Promotion) error {
	created, createdAt := stamp(time.Time{})
	id, err := q.insert(ctx, `
		INSERT INTO promotions (name, description, kind, start_time, end_time, min_spending, rate, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, string(p.Kind),
		formatTime(p.StartTime), formatTime(p.EndTime),
		nullDecimal(p.MinSpending), nullDecimal(p.Rate), nullInt64(p.Points),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create promotion: %w", err)
	}
	p.ID = id
	p.CreatedAt = created
	return nil
}

func (q queries) UpdatePromotion(ctx context.Context, p *ledger.Promotion) error {
	ok, err := q.exec(ctx, `
		UPDATE promotions
		SET name = ?, description = ?, kind = ?, start_time = ?, end_time = ?,
		    min_spending = ?, rate = ?, points = ?
		WHERE id = ?`,
		p.Name, p.Description, string(p.Kind),
		formatTime(p.StartTime), formatTime(p.EndTime),
		nullDecimal(p.MinSpending), nullDecimal(p.Rate), nullInt64(p.Points),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update promotion: %w", err)
	}
	if !ok {
		return ledger.ErrPromotionNotFound
	}
	return nil
}

func (q queries) DeletePromotion(ctx context.Context, id int64) error {
	ok, err := q.exec(ctx, `DELETE FROM promotions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete promotion: %w", err)
	}
	if !ok {
		return ledger.ErrPromotionNotFound
	}
	return nil
}

func (q queries) GetPromotion(ctx context.Context, id int64) (*ledger.Promotion, error) {
	var row promotionRow
	if err := q.get(ctx, &row, ledger.ErrPromotionNotFound,
		`SELECT `+promotionColumns+` FROM promotions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	p, err := row.toPromotion()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) ListPromotions(ctx context.Context) ([]ledger.Promotion, error) {
	return q.queryPromotions(ctx, `SELECT `+promotionColumns+` FROM promotions ORDER BY id`)
}

func (q queries) ActivePromotions(ctx context.Context, kind ledger.PromotionKind, at time.Time) ([]ledger.Promotion, error) {
	ts := formatTime(at)
	return q.queryPromotions(ctx, `
		SELECT `+promotionColumns+` FROM promotions
		WHERE kind = ? AND start_time <= ? AND end_time >= ?
		ORDER BY id`, string(kind), ts, ts)
}

func (q queries) queryPromotions(ctx context.Context, query string, args ...any) ([]ledger.Promotion, error) {
	var rows []promotionRow
	if err := q.all(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	out := make([]ledger.Promotion, len(rows))
	for i, r := range rows {
		p, err := r.toPromotion()
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (q queries) IsPromotionUsed(ctx context.Context, userID, promotionID int64) (bool, error) {
	var used bool
	err := q.get(ctx, &used, sql.ErrNoRows,
		`SELECT used FROM promotion_uses WHERE user_id = ? AND promotion_id = ?`, userID, promotionID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check promotion use: %w", err)
	}
	return used, nil
}

// MarkPromotionUsed inserts the use, or flips an unused row, in one statement.
// RowsAffected is zero only when the use was already recorded.
func (q queries) MarkPromotionUsed(ctx context.Context, userID, promotionID int64) (bool, error) {
	ok, err := q.exec(ctx, `
		INSERT INTO promotion_uses (user_id, promotion_id, used) VALUES (?, ?, TRUE)
		ON CONFLICT (user_id, promotion_id) DO UPDATE SET used = TRUE
		WHERE promotion_uses.used = FALSE`,
		userID, promotionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark promotion used: %w", err)
	}
	return ok, nil
}
