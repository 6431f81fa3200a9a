package models

import "time"

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"` // не отдаём наружу
	TelegramChatID *int64    `json:"telegramChatId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ProfileUpdate struct {
	Name           *string `json:"name"`
	Email          *string `json:"email" binding:"omitempty,email"`
	TelegramChatID *int64  `json:"telegramChatId"`
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
