package domain

import "time"

// User is an account profile. PasswordHash never leaves the service.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PhotoURL     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
