package domain

import "time"

// User is a resource owner. Email and profile fields feed ID token claims
// and the userinfo endpoint, gated by the email/profile scopes.
type User struct {
	ID            string
	Username      string
	PreferredName string
	PasswordHash  string // argon2 encoded
	Email         *string
	EmailVerified bool
	Picture       *string
	Locale        *string
	MFAEnabled    *time.Time // when MFA was enabled (nil = disabled)
	TOTPSecret    *string    // base32 TOTP secret, encrypted at rest
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
