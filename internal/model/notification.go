package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Status represents the delivery lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusSent, StatusFailed:
		return true
	}
	return false
}

// DataMap is a flat set of key/value pairs passed through to the push
// provider unmodified. Values are restricted to JSON primitives.
type DataMap map[string]interface{}

// Value implements driver.Valuer so DataMap can be stored as jsonb.
func (m DataMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for reading a jsonb column.
func (m *DataMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}

	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported data column type %T", src)
	}

	return json.Unmarshal(b, m)
}

// Notification is a single push dispatch and its delivery-tracking record.
//
// Exactly one of Topic or a non-empty UserIDs list must resolve to a
// concrete delivery target before any send attempt. MessageID is set only
// on a successful send; Error only on a failed one.
type Notification struct {
	ID          uuid.UUID      `json:"id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        DataMap        `json:"data,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	UserIDs     pq.StringArray `json:"userIds,omitempty"`
	Topic       string         `json:"topic,omitempty"`
	ScheduledAt *time.Time     `json:"scheduledTime,omitempty"`
	Status      Status         `json:"status"`
	MessageID   string         `json:"messageId,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retryCount"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ListFilter narrows a history listing. Search is matched against
// title/body in the service layer; the repository only applies the
// structured fields.
type ListFilter struct {
	Status Status
	Topic  string
	From   *time.Time
	To     *time.Time
	Search string
	Limit  int
	Offset int
}

// Pagination describes the window a listing was cut to.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// DailyCount is the number of notifications created on a calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// StatsSummary aggregates notification counts by status together with a
// trailing 30-day creation histogram.
type StatsSummary struct {
	Total     int          `json:"total"`
	Sent      int          `json:"sent"`
	Failed    int          `json:"failed"`
	Pending   int          `json:"pending"`
	Scheduled int          `json:"scheduled"`
	DailyData []DailyCount `json:"dailyData"`
}
