package services

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
)

type UserService interface {
	Signup(ctx context.Context, req models.SignupRequest) (*models.AuthResult, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error)
	Me(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.User, error)
}

type userService struct {
	repo         repositories.UserRepository
	authService  AuthService
	emailService EmailService
}

// NewUserService wires the account operations; emailService may be nil.
func NewUserService(repo repositories.UserRepository, authService AuthService, emailService EmailService) UserService {
	return &userService{repo: repo, authService: authService, emailService: emailService}
}

const minPasswordLen = 6

func (s *userService) Signup(ctx context.Context, req models.SignupRequest) (*models.AuthResult, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var errs []models.FieldError
	if name == "" {
		errs = append(errs, models.FieldError{Param: "name", Msg: "Name is required"})
	}
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		errs = append(errs, models.FieldError{Param: "email", Msg: "Please provide a valid email"})
	}
	if len(req.Password) < minPasswordLen {
		errs = append(errs, models.FieldError{Param: "password", Msg: "Password must be at least 6 characters"})
	}
	if len(errs) > 0 {
		return nil, validationError(errs...)
	}

	hash, err := s.authService.HashPassword(req.Password)
	if err != nil {
		return nil, unexpected("Failed to create user", err)
	}
	user := &models.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, unexpected("Failed to create user", err)
	}

	if s.emailService != nil {
		if err := s.emailService.SendWelcomeEmail(user.Email, user.Name); err != nil {
			// warn but do not fail signup
			log.Printf("[auth][signup][warn] welcome email to %s: %v", user.Email, err)
		}
	}
	return s.authResult(user)
}

func (s *userService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, unexpected("Failed to log in", err)
	}
	if !s.authService.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.authResult(user)
}

func (s *userService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unexpected("Failed to load user", err)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) (*models.User, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, validationError(models.FieldError{Param: "name", Msg: "Name is required"})
		}
		user.Name = name
	}
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, validationError(models.FieldError{Param: "email", Msg: "Please provide a valid email"})
		}
		user.Email = email
	}
	// чат привязывается только через одноразовый код в боте
	if upd.TelegramChatID != nil {
		if *upd.TelegramChatID != 0 {
			return nil, validationError(models.FieldError{
				Param: "telegramChatId",
				Msg:   "Telegram can only be linked through the bot; send 0 to unlink",
			})
		}
		user.TelegramChatID = nil
	}

	if err := s.repo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repositories.ErrDuplicate):
			return nil, ErrUserExists
		case errors.Is(err, repositories.ErrNotFound):
			return nil, ErrUserNotFound
		}
		return nil, unexpected("Failed to update profile", err)
	}
	return user, nil
}

func (s *userService) authResult(user *models.User) (*models.AuthResult, error) {
	token, err := s.authService.IssueToken(user.ID)
	if err != nil {
		return nil, unexpected("Failed to generate token", err)
	}
	return &models.AuthResult{User: user, Token: token}, nil
}
