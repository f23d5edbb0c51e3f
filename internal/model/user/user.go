package user

import "time"

// Role separates console users from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account allowed to use a subset of assistants.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	AssistantIDs []string  `json:"assistantIds"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user manages other accounts.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Profile is the public view returned at login.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Profile strips credentials and access lists.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Role: u.Role}
}

// Token is an opaque bearer credential issued at login.
type Token struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}
