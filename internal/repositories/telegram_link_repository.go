package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TelegramLink is a one-time code binding a Telegram chat to a user.
type TelegramLink struct {
	ID        string
	UserID    string
	Code      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type TelegramLinkRepository interface {
	Create(ctx context.Context, userID, code string, ttl time.Duration) (*TelegramLink, error)
	// UseByCode consumes a live code. Unknown, used and expired codes are
	// all ErrNotFound.
	UseByCode(ctx context.Context, code string) (*TelegramLink, error)
}

type telegramLinkRepository struct {
	db  *DB
	now func() time.Time
}

func NewTelegramLinkRepository(db *DB) TelegramLinkRepository {
	return &telegramLinkRepository{db: db, now: utcNow}
}

func (r *telegramLinkRepository) Create(ctx context.Context, userID, code string, ttl time.Duration) (*TelegramLink, error) {
	now := r.now()
	l := &TelegramLink{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO telegram_links (id, user_id, code, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, FALSE, ?)`),
		l.ID, l.UserID, l.Code, l.ExpiresAt, l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create telegram link: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("create telegram link: %w", err)
	}
	return l, nil
}

func (r *telegramLinkRepository) UseByCode(ctx context.Context, code string) (*TelegramLink, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var l TelegramLink
	err = tx.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, user_id, code, expires_at, used, created_at
		FROM telegram_links
		WHERE code = ?`), code).
		Scan(&l.ID, &l.UserID, &l.Code, &l.ExpiresAt, &l.Used, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find telegram link: %w", err)
	}
	if l.Used || r.now().After(l.ExpiresAt) {
		return nil, ErrNotFound
	}

	// used = FALSE guards against a concurrent consumer
	res, err := tx.ExecContext(ctx, r.db.rebind(`UPDATE telegram_links SET used = TRUE WHERE id = ? AND used = FALSE`), l.ID)
	if err != nil {
		return nil, fmt.Errorf("use telegram link: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	l.Used = true
	return &l, nil
}
