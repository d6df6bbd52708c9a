package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// EVENT STORE (point pool + membership)
// =============================================================================

type eventRow struct {
	ID            int64         `db:"id"`
	Name          string        `db:"name"`
	Description   string        `db:"description"`
	Location      string        `db:"location"`
	Capacity      sql.NullInt64 `db:"capacity"`
	Points        int64         `db:"points"`
	PointsRemain  int64         `db:"points_remain"`
	PointsAwarded int64         `db:"points_awarded"`
	StartTime     string        `db:"start_time"`
	EndTime       string        `db:"end_time"`
	Published     bool          `db:"published"`
	CreatedAt     string        `db:"created_at"`
}

func (r eventRow) toEvent() (ledger.Event, error) {
	var tp timeParser
	e := ledger.Event{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Location:      r.Location,
		Capacity:      int64Ptr(r.Capacity),
		Points:        r.Points,
		PointsRemain:  r.PointsRemain,
		PointsAwarded: r.PointsAwarded,
		StartTime:     tp.parse(r.StartTime),
		EndTime:       tp.parse(r.EndTime),
		Published:     r.Published,
		CreatedAt:     tp.parse(r.CreatedAt),
	}
	if tp.err != nil {
		return ledger.Event{}, fmt.Errorf("event %d: %w", r.ID, tp.err)
	}
	return e, nil
}

const eventColumns = `id, name, description, location, capacity, points, points_remain, points_awarded,
	start_time, end_time, published, created_at`

func (q queries) CreateEvent(ctx context.Context, e *ledger.Event) error {
	created, createdAt := stamp(time.Time{})
	id, err := q.insert(ctx, `
		INSERT INTO events
		(name, description, location, capacity, points, points_remain, points_awarded,
		 start_time, end_time, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.Description, e.Location, nullInt64(e.Capacity),
		e.Points, e.PointsRemain, e.PointsAwarded,
		formatTime(e.StartTime), formatTime(e.EndTime), e.Published, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	e.ID = id
	e.CreatedAt = created
	return nil
}

func (q queries) GetEvent(ctx context.Context, id int64) (*ledger.Event, error) {
	var row eventRow
	if err := q.get(ctx, &row, ledger.ErrEventNotFound,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id); err != nil {
		return nil, err
	}
	e, err := row.toEvent()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (q queries) UpdateEvent(ctx context.Context, e *ledger.Event) error {
	ok, err := q.exec(ctx, `
		UPDATE events
		SET name = ?, description = ?, location = ?, capacity = ?,
		    start_time = ?, end_time = ?, published = ?
		WHERE id = ?`,
		e.Name, e.Description, e.Location, nullInt64(e.Capacity),
		formatTime(e.StartTime), formatTime(e.EndTime), e.Published,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if !ok {
		return ledger.ErrEventNotFound
	}
	return nil
}

// DeleteEvent removes the membership rows first so the foreign keys hold.
func (q queries) DeleteEvent(ctx context.Context, id int64) error {
	for _, table := range []string{"event_organizers", "event_guests"} {
		if _, err := q.exec(ctx, `DELETE FROM `+table+` WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	ok, err := q.exec(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if !ok {
		return ledger.ErrEventNotFound
	}
	return nil
}

func (q queries) ReserveEventPoints(ctx context.Context, id int64, total int64) (bool, error) {
	ok, err := q.exec(ctx, `
		UPDATE events
		SET points_remain = points_remain - ?, points_awarded = points_awarded + ?
		WHERE id = ? AND points_remain >= ?`,
		total, total, id, total,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve event points: %w", err)
	}
	if !ok {
		return false, q.eventExists(ctx, id)
	}
	return true, nil
}

func (q queries) AdjustEventBudget(ctx context.Context, id int64, delta int64) (bool, error) {
	ok, err := q.exec(ctx, `
		UPDATE events
		SET points = points + ?, points_remain = points_remain + ?
		WHERE id = ? AND points_remain + ? >= 0`,
		delta, delta, id, delta,
	)
	if err != nil {
		return false, fmt.Errorf("failed to adjust event budget: %w", err)
	}
	if !ok {
		return false, q.eventExists(ctx, id)
	}
	return true, nil
}

// eventExists distinguishes a refused conditional update from a missing event.
func (q queries) eventExists(ctx context.Context, id int64) error {
	var n int64
	return q.get(ctx, &n, ledger.ErrEventNotFound, `SELECT id FROM events WHERE id = ?`, id)
}

func (q queries) AddOrganizer(ctx context.Context, eventID, userID int64) error {
	if _, err := q.exec(ctx,
		`INSERT INTO event_organizers (event_id, user_id) VALUES (?, ?) ON CONFLICT (event_id, user_id) DO NOTHING`,
		eventID, userID,
	); err != nil {
		return fmt.Errorf("failed to add organizer: %w", err)
	}
	return nil
}

func (q queries) AddGuest(ctx context.Context, eventID, userID int64) error {
	if _, err := q.exec(ctx,
		`INSERT INTO event_guests (event_id, user_id) VALUES (?, ?) ON CONFLICT (event_id, user_id) DO NOTHING`,
		eventID, userID,
	); err != nil {
		return fmt.Errorf("failed to add guest: %w", err)
	}
	return nil
}

func (q queries) RemoveGuest(ctx context.Context, eventID, userID int64) (bool, error) {
	ok, err := q.exec(ctx, `DELETE FROM event_guests WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove guest: %w", err)
	}
	return ok, nil
}

func (q queries) RemoveOrganizer(ctx context.Context, eventID, userID int64) (bool, error) {
	ok, err := q.exec(ctx, `DELETE FROM event_organizers WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove organizer: %w", err)
	}
	return ok, nil
}

func (q queries) IsOrganizer(ctx context.Context, eventID, userID int64) (bool, error) {
	return q.member(ctx, "event_organizers", eventID, userID)
}

func (q queries) IsGuest(ctx context.Context, eventID, userID int64) (bool, error) {
	return q.member(ctx, "event_guests", eventID, userID)
}

func (q queries) member(ctx context.Context, table string, eventID, userID int64) (bool, error) {
	var n int64
	if err := q.get(ctx, &n, nil,
		`SELECT COUNT(*) FROM `+table+` WHERE event_id = ? AND user_id = ?`, eventID, userID); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

func (q queries) ListGuests(ctx context.Context, eventID int64) ([]int64, error) {
	var ids []int64
	if err := q.all(ctx, &ids, `SELECT user_id FROM event_guests WHERE event_id = ? ORDER BY id`, eventID); err != nil {
		return nil, fmt.Errorf("failed to list guests: %w", err)
	}
	return ids, nil
}

func (q queries) ListOrganizers(ctx context.Context, eventID int64) ([]int64, error) {
	var ids []int64
	if err := q.all(ctx, &ids, `SELECT user_id FROM event_organizers WHERE event_id = ? ORDER BY id`, eventID); err != nil {
		return nil, fmt.Errorf("failed to list organizers: %w", err)
	}
	return ids, nil
}
