package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/authguard/internal/database"
	"github.com/BradenHooton/authguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const securityEventColumns = `id, user_id, email, event_type, success, ip_address, user_agent, details, created_at`

// SecurityEventRepository stores security events in PostgreSQL
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent
	var eventType string

	err := row.Scan(
		&event.ID, &event.UserID, &event.Email, &eventType, &event.Success,
		&event.IPAddress, &event.UserAgent, &event.Details, &event.Timestamp,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	event.EventType = models.EventType(eventType)
	return &event, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		event, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Create appends an event
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, user_id, email, event_type, success, ip_address, user_agent, details, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, event.Email, string(event.EventType), event.Success,
		event.IPAddress, event.UserAgent, event.Details, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// Query returns matching events ordered by timestamp descending
func (r *SecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	where, args := buildEventWhere(filter)

	query := `SELECT ` + securityEventColumns + ` FROM security_events` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// Count returns the number of matching events
func (r *SecurityEventRepository) Count(ctx context.Context, filter models.EventFilter) (int64, error) {
	where, args := buildEventWhere(filter)

	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_events`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes events created before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old security events: %w", err)
	}
	return result.RowsAffected(), nil
}

// buildEventWhere renders the filter as a WHERE clause with positional args
func buildEventWhere(filter models.EventFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Email != nil {
		add("lower(email) = lower($%d)", *filter.Email)
	}
	if filter.EventType != nil {
		add("event_type = $%d", string(*filter.EventType))
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}
	if filter.IPAddress != nil {
		add("ip_address = $%d", *filter.IPAddress)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
