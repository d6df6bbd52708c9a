package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// TRANSACTION STORE (append-only ledger)
// =============================================================================

type transactionRow struct {
	ID            int64               `db:"id"`
	Kind          string              `db:"kind"`
	UserID        int64               `db:"user_id"`
	CreatedByID   int64               `db:"created_by_id"`
	Awarded       sql.NullInt64       `db:"awarded"`
	Redeemed      sql.NullInt64       `db:"redeemed"`
	Spent         decimal.NullDecimal `db:"spent"`
	RelatedID     sql.NullInt64       `db:"related_id"`
	Remark        string              `db:"remark"`
	Suspicious    bool                `db:"suspicious"`
	Processed     sql.NullBool        `db:"processed"`
	ProcessedByID sql.NullInt64       `db:"processed_by_id"`
	CreatedAt     string              `db:"created_at"`
}

func (r transactionRow) toTransaction() (ledger.Transaction, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %d: %w", r.ID, err)
	}
	tx := ledger.Transaction{
		ID:            r.ID,
		Kind:          ledger.TxKind(r.Kind),
		UserID:        r.UserID,
		CreatedByID:   r.CreatedByID,
		Awarded:       int64Ptr(r.Awarded),
		Redeemed:      int64Ptr(r.Redeemed),
		Spent:         decimalPtr(r.Spent),
		RelatedID:     int64Ptr(r.RelatedID),
		Remark:        r.Remark,
		Suspicious:    r.Suspicious,
		ProcessedByID: int64Ptr(r.ProcessedByID),
		CreatedAt:     createdAt,
	}
	if r.Processed.Valid {
		processed := r.Processed.Bool
		tx.Processed = &processed
	}
	return tx, nil
}

const transactionColumns = `id, kind, user_id, created_by_id, awarded, redeemed, spent, related_id,
	remark, suspicious, processed, processed_by_id, created_at`

func (q queries) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	created, createdAt := stamp(tx.CreatedAt)
	var processed sql.NullBool
	if tx.Processed != nil {
		processed = sql.NullBool{Bool: *tx.Processed, Valid: true}
	}

	id, err := q.insert(ctx, `
		INSERT INTO transactions
		(kind, user_id, created_by_id, awarded, redeemed, spent, related_id,
		 remark, suspicious, processed, processed_by_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.Kind),
		tx.UserID,
		tx.CreatedByID,
		nullInt64(tx.Awarded),
		nullInt64(tx.Redeemed),
		nullDecimal(tx.Spent),
		nullInt64(tx.RelatedID),
		tx.Remark,
		tx.Suspicious,
		processed,
		nullInt64(tx.ProcessedByID),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for pos, promoID := range tx.PromotionIDs {
		if _, err := q.q.ExecContext(ctx,
			`INSERT INTO transaction_promotions (transaction_id, promotion_id, position) VALUES (?, ?, ?)`,
			id, promoID, pos,
		); err != nil {
			return fmt.Errorf("failed to link promotion %d: %w", promoID, mapErr(err))
		}
	}

	tx.ID = id
	tx.CreatedAt = created
	return nil
}

func (q queries) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	var row transactionRow
	if err := q.get(ctx, &row, ledger.ErrTransactionNotFound,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id); err != nil {
		return nil, err
	}
	tx, err := row.toTransaction()
	if err != nil {
		return nil, err
	}

	var promos []int64
	if err := q.all(ctx, &promos,
		`SELECT promotion_id FROM transaction_promotions WHERE transaction_id = ? ORDER BY position`, id); err != nil {
		return nil, fmt.Errorf("failed to load promotion links: %w", err)
	}
	tx.PromotionIDs = promos
	return &tx, nil
}

func (q queries) ListTransactionsByUser(ctx context.Context, userID int64) ([]ledger.Transaction, error) {
	var rows []transactionRow
	if err := q.all(ctx, &rows,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	var links []struct {
		TransactionID int64 `db:"transaction_id"`
		PromotionID   int64 `db:"promotion_id"`
	}
	if err := q.all(ctx, &links, `
		SELECT tp.transaction_id, tp.promotion_id
		FROM transaction_promotions tp
		JOIN transactions t ON t.id = tp.transaction_id
		WHERE t.user_id = ?
		ORDER BY tp.transaction_id, tp.position`, userID); err != nil {
		return nil, fmt.Errorf("failed to load promotion links: %w", err)
	}
	byTx := make(map[int64][]int64, len(links))
	for _, l := range links {
		byTx[l.TransactionID] = append(byTx[l.TransactionID], l.PromotionID)
	}

	out := make([]ledger.Transaction, len(rows))
	for i, r := range rows {
		tx, err := r.toTransaction()
		if err != nil {
			return nil, err
		}
		out[i] = tx
		out[i].PromotionIDs = byTx[r.ID]
	}
	return out, nil
}

func (q queries) MarkProcessed(ctx context.Context, id int64, processedBy int64) (bool, error) {
	ok, err := q.exec(ctx, `
		UPDATE transactions SET processed = TRUE, processed_by_id = ?
		WHERE id = ? AND kind = 'redemption' AND processed = FALSE`,
		processedBy, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark processed: %w", err)
	}
	return ok, nil
}

func (q queries) SetSuspicious(ctx context.Context, id int64, flag bool) (bool, error) {
	ok, err := q.exec(ctx, `UPDATE transactions SET suspicious = ? WHERE id = ? AND suspicious <> ?`, flag, id, flag)
	if err != nil {
		return false, fmt.Errorf("failed to set suspicious: %w", err)
	}
	return ok, nil
}
