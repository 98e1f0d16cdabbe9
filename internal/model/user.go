package model

import "time"

// UserRole distinguishes the three account kinds on the platform.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleLecturer UserRole = "LECTURER"
	RoleStudent  UserRole = "STUDENT"
)

// User is the authenticated account as returned by the auth endpoints.
type User struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Role     UserRole `json:"role"`
	IsActive bool     `json:"isActive"`
}

// Token is one credential plus its absolute expiry.
type Token struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// TokenPair carries the access/refresh credential pair issued on login
// and rotated on every refresh.
type TokenPair struct {
	Access  Token `json:"access"`
	Refresh Token `json:"refresh"`
}

// LoginResponse is the body of POST /auth/login and /auth/refresh-tokens.
type LoginResponse struct {
	User   *User     `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// RefreshRequest is the body of POST /auth/refresh-tokens.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// LogoutRequest is the body of POST /auth/logout (best-effort revocation).
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}
