package auth

import "time"

// Identity is a sign-in credential. Its ID is shared with the profile it authenticates.
type Identity struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing identities.
func (Identity) TableName() string {
	return "identities"
}

// RevokedSession records a signed-out session id until the token it belongs to expires.
type RevokedSession struct {
	SessionID  string    `gorm:"column:session_id;primaryKey;size:64"`
	IdentityID string    `gorm:"column:identity_id;size:64;not null;index"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing revoked sessions.
func (RevokedSession) TableName() string {
	return "revoked_sessions"
}
