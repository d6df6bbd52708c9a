package sqlite_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/store/sqlite"
)

var accountCols = []string{"id", "utorid", "name", "email", "role", "points", "verified", "suspicious", "created_at"}

const createdAt = "2025-03-10T12:00:00.000000000Z"

func setupMock(t *testing.T) (*ledger.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { sqlxDB.Close() })

	logger, _ := test.NewNullLogger()
	return ledger.NewEngine(sqlite.NewWithDB(sqlxDB), ledger.DefaultConfig(), ledger.WithLogger(logger)), mock
}

func TestTransfer_RollsBackOnStorageFailure(t *testing.T) {
	// GIVEN: A sender with 100 points and a recipient
	// WHEN: Crediting the recipient fails after the sender was debited
	// THEN: The unit is rolled back and the error is classified internal

	e, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(1, "alice001", "Alice", "a@x.ca", "regular", 100, true, false, createdAt))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(2, "bobby002", "Bob", "b@x.ca", "regular", 0, false, false, createdAt))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET points = points - ? WHERE id = ? AND points >= ?")).
		WithArgs(30, 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET points = points + ? WHERE id = ?")).
		WithArgs(30, 2).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := e.Transfer(context.Background(), ledger.Actor{ID: 1, Role: ledger.RoleRegular}, 2, 30, "")
	require.Error(t, err)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))
	assert.ErrorIs(t, err, ledger.ErrTransactionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_RuleFailureRollsBack(t *testing.T) {
	// GIVEN: A sender whose balance dropped between the read and the debit
	// WHEN: The conditional debit touches no row
	// THEN: The unit is rolled back with an insufficient balance error

	e, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(1, "alice001", "Alice", "a@x.ca", "regular", 100, true, false, createdAt))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(2, "bobby002", "Bob", "b@x.ca", "regular", 0, false, false, createdAt))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET points = points - ? WHERE id = ? AND points >= ?")).
		WithArgs(30, 1, 30).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(1, "alice001", "Alice", "a@x.ca", "regular", 10, true, false, createdAt))
	mock.ExpectRollback()

	_, err := e.Transfer(context.Background(), ledger.Actor{ID: 1, Role: ledger.RoleRegular}, 2, 30, "")
	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Available)
	assert.Equal(t, ledger.KindRule, ledger.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAtomically_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	defer sqlxDB.Close()
	s := sqlite.NewWithDB(sqlxDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET points = points + ? WHERE id = ?")).
		WithArgs(5, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.RunAtomically(context.Background(), func(st ledger.Store) error {
		return st.AddPoints(context.Background(), 7, 5)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var eventCols = []string{"id", "name", "description", "location", "capacity", "points", "points_remain",
	"points_awarded", "start_time", "end_time", "published", "created_at"}

func TestGetEvent_CorruptTimestampIsAnError(t *testing.T) {
	// GIVEN: An event row whose end_time is not a timestamp
	// WHEN: The event is loaded
	// THEN: The read fails instead of returning a zero end time

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	defer sqlxDB.Close()
	s := sqlite.NewWithDB(sqlxDB)

	mock.ExpectQuery(regexp.QuoteMeta("FROM events WHERE id = ?")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow(3, "Hackathon", "", "", nil, 100, 100, 0, createdAt, "next tuesday", false, createdAt))

	ev, err := s.GetEvent(context.Background(), 3)
	require.Error(t, err)
	assert.Nil(t, ev)
	assert.Contains(t, err.Error(), "event 3")
	assert.Contains(t, err.Error(), "next tuesday")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount_CorruptTimestampIsInternal(t *testing.T) {
	e, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = ?")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(1, "alice001", "Alice", "a@x.ca", "regular", 100, true, false, "garbage"))

	_, err := e.GetAccount(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
