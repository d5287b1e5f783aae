package notification

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/avoronkov/push-dispatcher/internal/model"
)

var notificationColumns = []string{
	"id", "title", "body", "data", "image_url", "user_ids", "topic", "scheduled_at",
	"status", "message_id", "error", "retry_count", "created_at", "updated_at",
}

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func notificationRow(id uuid.UUID, status model.Status) *sqlmock.Rows {
	now := time.Now()

	return sqlmock.NewRows(notificationColumns).AddRow(
		id, "Promo", "20% off", []byte(`{"campaign":"spring"}`), "", []byte(`{}`),
		"promotions", nil, status, "", "", 0, now, now,
	)
}

func TestCreate(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	now := time.Now()
	n := model.Notification{
		Title:  "Promo",
		Body:   "20% off",
		Topic:  "promotions",
		Status: model.StatusPending,
	}

	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO notifications (
		    title, body, data, image_url, user_ids, topic, scheduled_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at;
    `)).
		WithArgs(n.Title, n.Body, n.Data, n.ImageURL, n.UserIDs, n.Topic, n.ScheduledAt, n.Status).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now))

	created, err := repo.Create(context.Background(), n)
	assert.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, now, created.CreatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	query := regexp.QuoteMeta(`
		SELECT ` + columns + `
		FROM notifications
		WHERE id = $1;
    `)

	mock.ExpectQuery(query).
		WithArgs(id).
		WillReturnRows(notificationRow(id, model.StatusSent))

	n, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, model.StatusSent, n.Status)
	assert.Equal(t, "spring", n.Data["campaign"])
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(query).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSent(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	query := regexp.QuoteMeta(`
		UPDATE notifications
		SET status = 'sent', message_id = $2, error = '', updated_at = now()
		WHERE id = $1;
    `)

	mock.ExpectExec(query).
		WithArgs(id, "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkSent(context.Background(), id, "msg-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(query).
		WithArgs(id, "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.MarkSent(context.Background(), id, "msg-1")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE notifications
		SET status = 'failed', error = $2, message_id = '', updated_at = now()
		WHERE id = $1;
    `)).
		WithArgs(id, "provider unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFailed(context.Background(), id, "provider unavailable")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimFailed(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	claimQuery := regexp.QuoteMeta(`
		UPDATE notifications
		SET status = 'pending', retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'failed'
		RETURNING ` + columns + `;
    `)
	getQuery := regexp.QuoteMeta(`
		SELECT ` + columns + `
		FROM notifications
		WHERE id = $1;
    `)

	mock.ExpectQuery(claimQuery).
		WithArgs(id).
		WillReturnRows(notificationRow(id, model.StatusPending))

	n, err := repo.ClaimFailed(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Record exists but is not failed.
	mock.ExpectQuery(claimQuery).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(getQuery).
		WithArgs(id).
		WillReturnRows(notificationRow(id, model.StatusSent))

	_, err = repo.ClaimFailed(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Record does not exist at all.
	mock.ExpectQuery(claimQuery).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(getQuery).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.ClaimFailed(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()
	first := uuid.New()
	second := uuid.New()

	rows := sqlmock.NewRows(notificationColumns).
		AddRow(first, "a", "b", nil, "", []byte(`{}`), "news", now.Add(-time.Minute),
			model.StatusPending, "", "", 0, now, now).
		AddRow(second, "c", "d", nil, "", []byte(`{}`), "news", now.Add(-time.Second),
			model.StatusPending, "", "", 0, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`
		UPDATE notifications
		SET status = 'pending', updated_at = now()
		WHERE id IN (
		    SELECT id FROM notifications
		    WHERE status = 'scheduled' AND scheduled_at <= $1
		    ORDER BY scheduled_at
		    LIMIT $2
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + columns + `;
    `)).
		WithArgs(now, 100).
		WillReturnRows(rows)

	due, err := repo.ClaimDue(context.Background(), now, 100)
	assert.NoError(t, err)
	assert.Len(t, due, 2)
	assert.Equal(t, first, due[0].ID)
	assert.Equal(t, second, due[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	f := model.ListFilter{Status: model.StatusFailed, Limit: 10, Offset: 5}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM notifications WHERE status = $1;`)).
		WithArgs(f.Status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT `+columns+` FROM notifications WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3;`,
	)).
		WithArgs(f.Status, f.Limit, f.Offset).
		WillReturnRows(notificationRow(id, model.StatusFailed))

	notifications, total, err := repo.List(context.Background(), f)
	assert.NoError(t, err)
	assert.Equal(t, 42, total)
	assert.Len(t, notifications, 1)
	assert.Equal(t, id, notifications[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_NoFilter(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM notifications;`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT ` + columns + ` FROM notifications ORDER BY created_at DESC;`,
	)).
		WillReturnRows(sqlmock.NewRows(notificationColumns))

	notifications, total, err := repo.List(context.Background(), model.ListFilter{})
	assert.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, notifications)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT status, COUNT(*)
		FROM notifications
		GROUP BY status;
    `)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("sent", 3).
			AddRow("failed", 1).
			AddRow("scheduled", 2))

	counts, err := repo.CountByStatus(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, map[model.Status]int{
		model.StatusSent:      3,
		model.StatusFailed:    1,
		model.StatusScheduled: 2,
	}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyCounts(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT d.day::date, COUNT(n.id)
		FROM generate_series(
		    CURRENT_DATE - ($1 - 1) * INTERVAL '1 day', CURRENT_DATE, INTERVAL '1 day'
		) AS d(day)
		LEFT JOIN notifications n ON n.created_at::date = d.day::date
		GROUP BY d.day
		ORDER BY d.day;
    `)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).
			AddRow(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 0).
			AddRow(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), 4).
			AddRow(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), 1))

	daily, err := repo.DailyCounts(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, []model.DailyCount{
		{Date: "2025-03-01", Count: 0},
		{Date: "2025-03-02", Count: 4},
		{Date: "2025-03-03", Count: 1},
	}, daily)
	assert.NoError(t, mock.ExpectationsWereMet())
}
