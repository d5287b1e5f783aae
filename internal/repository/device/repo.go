// Package device looks up the current delivery token registered for a
// recipient. Token registration itself is owned by another service; this
// repository only reads.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
)

var ErrTokenNotFound = errors.New("no delivery token registered")

// Repository reads recipient device tokens.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new device-token repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetDeliveryToken returns the most recently registered token for the
// given recipient, or ErrTokenNotFound when the recipient has no active
// device.
func (r *Repository) GetDeliveryToken(ctx context.Context, userID string) (string, error) {
	query := `
		SELECT token
		FROM device_tokens
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1;
    `

	var token string
	err := r.db.Master.QueryRowContext(ctx, query, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTokenNotFound
		}

		return "", fmt.Errorf("failed to get delivery token: %w", err)
	}

	return token, nil
}
