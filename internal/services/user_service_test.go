package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskflow/internal/middleware"
	"taskflow/internal/models"
	"taskflow/internal/repositories"
)

type recordingMailer struct {
	sent []string
	err  error
}

func (m *recordingMailer) SendWelcomeEmail(email, name string) error {
	m.sent = append(m.sent, email)
	return m.err
}

func newUserService(t *testing.T, mailer EmailService) (UserService, repositories.UserRepository) {
	t.Helper()
	db, err := repositories.Open("sqlite", filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := repositories.NewUserRepository(db)
	return NewUserService(repo, NewAuthService("test-secret", time.Hour), mailer), repo
}

func TestSignupAndLogin(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	svc, _ := newUserService(t, mailer)
	ctx := context.Background()

	res, err := svc.Signup(ctx, models.SignupRequest{Name: "Alice", Email: "Alice@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if res.Token == "" || res.User.ID == "" {
		t.Fatalf("signup result = %+v", res)
	}
	if res.User.Email != "alice@example.com" {
		t.Fatalf("email = %q, want lowercased", res.User.Email)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("welcome emails = %d", len(mailer.sent))
	}

	claims := &middleware.Claims{}
	if _, err := jwt.ParseWithClaims(res.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != res.User.ID {
		t.Fatalf("token user = %q, want %q", claims.UserID, res.User.ID)
	}

	if _, err := svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v", err)
	}
	if _, err := svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: err = %v", err)
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newUserService(t, nil)
	ctx := context.Background()
	req := models.SignupRequest{Name: "A", Email: "a@example.com", Password: "secret1"}
	if _, err := svc.Signup(ctx, req); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	req.Email = "A@EXAMPLE.COM"
	if _, err := svc.Signup(ctx, req); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate: err = %v, want user exists", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newUserService(t, nil)
	_, err := svc.Signup(context.Background(), models.SignupRequest{Name: " ", Email: "bad", Password: "123"})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if len(e.Fields) != 3 {
		t.Fatalf("fields = %+v, want 3", e.Fields)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, repo := newUserService(t, nil)
	ctx := context.Background()
	res, err := svc.Signup(ctx, models.SignupRequest{Name: "A", Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	name := "Alice"
	u, err := svc.UpdateProfile(ctx, res.User.ID, models.ProfileUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if u.Name != "Alice" || u.Email != "a@example.com" {
		t.Fatalf("user = %+v", u)
	}

	// a chat can only be attached through the link code, never set directly
	chat := int64(4242)
	if _, err := svc.UpdateProfile(ctx, res.User.ID, models.ProfileUpdate{TelegramChatID: &chat}); KindOf(err) != KindValidation {
		t.Fatalf("direct link: err = %v, want validation", err)
	}
	if _, ok, _ := repo.GetTelegramChatID(ctx, res.User.ID); ok {
		t.Fatal("chat id set without a link code")
	}

	stored, err := repo.GetByID(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	stored.TelegramChatID = &chat
	if err := repo.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}
	zero := int64(0)
	if _, err := svc.UpdateProfile(ctx, res.User.ID, models.ProfileUpdate{TelegramChatID: &zero}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if _, ok, _ := repo.GetTelegramChatID(ctx, res.User.ID); ok {
		t.Fatal("chat id should be cleared")
	}

	if _, err := svc.Me(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Me(missing): err = %v", err)
	}
}
