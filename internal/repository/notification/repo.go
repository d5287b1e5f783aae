package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/avoronkov/push-dispatcher/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidStatus        = errors.New("notification is not in a retryable status")
)

const columns = `id, title, body, data, image_url, user_ids, topic, scheduled_at,
	status, message_id, error, retry_count, created_at, updated_at`

// Repository provides methods to interact with the notifications table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

func scanNotification(row interface{ Scan(...interface{}) error }) (model.Notification, error) {
	var n model.Notification

	err := row.Scan(
		&n.ID, &n.Title, &n.Body, &n.Data, &n.ImageURL, &n.UserIDs, &n.Topic,
		&n.ScheduledAt, &n.Status, &n.MessageID, &n.Error, &n.RetryCount,
		&n.CreatedAt, &n.UpdatedAt,
	)

	return n, err
}

// Create inserts a new notification and returns it with the generated id
// and timestamps filled in.
func (r *Repository) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	query := `
		INSERT INTO notifications (
		    title, body, data, image_url, user_ids, topic, scheduled_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at;
    `

	err := r.db.Master.QueryRowContext(
		ctx, query, n.Title, n.Body, n.Data, n.ImageURL, n.UserIDs, n.Topic, n.ScheduledAt, n.Status,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}

	return n, nil
}

// GetByID retrieves a single notification by its ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE id = $1;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// MarkSent records a successful delivery: status becomes "sent" and the
// provider message id is stored.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, messageID string) error {
	query := `
		UPDATE notifications
		SET status = 'sent', message_id = $2, error = '', updated_at = now()
		WHERE id = $1;
    `

	res, err := r.db.ExecContext(ctx, query, id, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// MarkFailed records a failed delivery attempt with its error description.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	query := `
		UPDATE notifications
		SET status = 'failed', error = $2, message_id = '', updated_at = now()
		WHERE id = $1;
    `

	res, err := r.db.ExecContext(ctx, query, id, cause)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// ClaimFailed atomically moves a failed notification back to "pending" and
// increments its retry count. It returns ErrInvalidStatus when the record
// exists but is not in "failed" status.
func (r *Repository) ClaimFailed(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'pending', retry_count = retry_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'failed'
		RETURNING ` + columns + `;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing record from one in the wrong status.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return model.Notification{}, getErr
			}

			return model.Notification{}, ErrInvalidStatus
		}

		return model.Notification{}, fmt.Errorf("failed to claim notification for retry: %w", err)
	}

	return n, nil
}

// ClaimDue atomically claims scheduled notifications whose send time has
// arrived, flipping them to "pending" so concurrent sweeps cannot pick the
// same record twice.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	query := `
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
    `

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	defer rows.Close()

	var due []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}

		due = append(due, n)
	}

	return due, rows.Err()
}

// List retrieves notifications matching the structured filter fields,
// ordered by creation time descending, together with the total match count.
// Filter.Search is applied by the service layer, not here. A non-positive
// limit returns the full match set.
func (r *Repository) List(ctx context.Context, f model.ListFilter) ([]model.Notification, int, error) {
	var (
		conds []string
		args  []interface{}
	)

	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, f.Topic)
		conds = append(conds, fmt.Sprintf("topic = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM notifications` + where + `;`
	if err := r.db.Master.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `SELECT ` + columns + ` FROM notifications` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	query += `;`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}

		notifications = append(notifications, n)
	}

	return notifications, total, rows.Err()
}

// CountByStatus returns the number of notifications per lifecycle status.
func (r *Repository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM notifications
		GROUP BY status;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status model.Status
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		counts[status] = count
	}

	return counts, rows.Err()
}

// DailyCounts returns one entry per calendar day for the trailing days
// window, zero-filled and sorted chronologically ascending.
func (r *Repository) DailyCounts(ctx context.Context, days int) ([]model.DailyCount, error) {
	query := `
		SELECT d.day::date, COUNT(n.id)
		FROM generate_series(
		    CURRENT_DATE - ($1 - 1) * INTERVAL '1 day', CURRENT_DATE, INTERVAL '1 day'
		) AS d(day)
		LEFT JOIN notifications n ON n.created_at::date = d.day::date
		GROUP BY d.day
		ORDER BY d.day;
    `

	rows, err := r.db.QueryContext(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily counts: %w", err)
	}
	defer rows.Close()

	var daily []model.DailyCount
	for rows.Next() {
		var (
			day   time.Time
			count int
		)

		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}

		daily = append(daily, model.DailyCount{Date: day.Format("2006-01-02"), Count: count})
	}

	return daily, rows.Err()
}
