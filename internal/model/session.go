package model

import "time"

// Credential is the broker bearer token held by the session manager.
type Credential struct {
	AccessToken string    `json:"-"`
	IssuedAt    time.Time `json:"issued_at"`
	Source      string    `json:"source"`
}

type UserProfile struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	UserID string `json:"user_id"`
}
