package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"progkeeper/api/internal/models"
)

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, expiry, ip_audit, created_at`

func (r *SessionRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *SessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, expiry, ip_audit, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	ips := session.IPAudit
	if ips == nil {
		ips = []string{}
	}

	_, err := r.pool.Exec(ctx, query, session.ID, session.UserID, session.Expiry, ips)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return ErrSessionExists
		case pgForeignKeyViolation:
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

// Refresh extends a live session to at least expiry and records ip in its
// audit trail. The audit keeps insertion order, skips duplicates and holds at
// most maxIPs entries, dropping the oldest first. Sessions already expired at
// now are left untouched and reported as ErrSessionNotFound.
func (r *SessionRepository) Refresh(ctx context.Context, id, ip string, now, expiry time.Time, maxIPs int) (models.Session, error) {
	const query = `
		UPDATE sessions
		SET expiry = GREATEST(expiry, $2),
		    ip_audit = CASE
		        WHEN $3::text = '' OR $3::text = ANY(ip_audit) THEN ip_audit
		        ELSE (array_append(ip_audit, $3::text))[GREATEST(cardinality(ip_audit) + 2 - $5::int, 1):]
		    END
		WHERE id = $1 AND expiry > $4
		RETURNING ` + sessionColumns

	session, err := scanSession(r.pool.QueryRow(ctx, query, id, expiry, ip, now, maxIPs))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	cmd, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expiry <= $1`
	cmd, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanSession(row pgx.Row) (models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Expiry,
		&session.IPAudit,
		&session.CreatedAt,
	)
	return session, err
}
