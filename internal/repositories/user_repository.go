package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskflow/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error

	// Telegram helpers
	GetTelegramChatID(ctx context.Context, userID string) (chatID int64, ok bool, err error)
}

type userRepository struct {
	db *DB
}

func NewUserRepository(db *DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, password_hash, telegram_chat_id, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	now := utcNow()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?,?,?,?,?,?,?)`),
		user.ID, user.Name, user.Email, user.PasswordHash, nullableInt(user.TelegramChatID),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user %s: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	return scanUser(row)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind("SELECT "+userColumns+" FROM users WHERE email = ?"),
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.UpdatedAt = utcNow()
	res, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE users SET name = ?, email = ?, password_hash = ?, telegram_chat_id = ?, updated_at = ?
		WHERE id = ?`),
		user.Name, user.Email, user.PasswordHash, nullableInt(user.TelegramChatID), user.UpdatedAt, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update user %s: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) GetTelegramChatID(ctx context.Context, userID string) (int64, bool, error) {
	var chatID sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT telegram_chat_id FROM users WHERE id = ?`), userID).Scan(&chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("get telegram chat of %s: %w", userID, err)
	}
	if !chatID.Valid || chatID.Int64 == 0 {
		return 0, false, nil
	}
	return chatID.Int64, true, nil
}

func scanUser(s scanner) (*models.User, error) {
	var u models.User
	var chatID sql.NullInt64
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &chatID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if chatID.Valid {
		v := chatID.Int64
		u.TelegramChatID = &v
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
