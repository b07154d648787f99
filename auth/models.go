package auth

import "time"

type Role string

const (
	RoleBroker     Role = "broker"
	RoleSupervisor Role = "supervisor"
)

// User is the domain representation of an account able to sign in.
// Brokers are created by application conversion; supervisors are registered directly.
type User struct {
	ID           string
	Name         string
	Phone        string
	Email        *string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
}

// RegisterRequest contains account data supplied by callers.
type RegisterRequest struct {
	Phone    string  `json:"phone"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Email    *string `json:"email,omitempty"`
	Role     Role    `json:"role"`
}

// LoginRequest contains phone-based login credentials.
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}
