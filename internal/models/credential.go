package models

import "gorm.io/gorm"

// Credential is an encrypted blob identified by (user, platform, account).
// The payload is opaque to the core; the vault owns encryption.
type Credential struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_credentials_identity" json:"user_id"`

	// Platform names the external system (e.g. "meethub", "videohub").
	Platform string `gorm:"not null;size:50;uniqueIndex:idx_credentials_identity" json:"platform"`

	// AccountName distinguishes multiple accounts on one platform.
	AccountName string `gorm:"not null;size:255;uniqueIndex:idx_credentials_identity" json:"account_name"`

	// Blob is the encrypted credential envelope.
	Blob []byte `gorm:"type:blob" json:"-"`

	// Enabled gates use of this credential.
	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for Credential.
func (Credential) TableName() string {
	return "credentials"
}

// IsEnabled returns true unless the credential is explicitly disabled.
func (c *Credential) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// Validate performs basic validation on the credential.
func (c *Credential) Validate() error {
	if c.UserID.IsZero() {
		return ErrUserIDRequired
	}
	if c.Platform == "" {
		return ErrPlatformRequired
	}
	return nil
}

// BeforeCreate validates the credential and generates the ULID.
func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// RefreshToken is a provider refresh token tracked for expiry GC. The token
// value itself lives inside the credential blob; this row only records
// lifetime so maintenance can prune dead grants.
type RefreshToken struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;index" json:"user_id"`

	// CredentialID is the credential this token belongs to.
	CredentialID ULID `gorm:"type:varchar(26);not null;index" json:"credential_id"`

	// ExpiresAt is when the provider invalidates the grant.
	ExpiresAt Time `gorm:"not null;index" json:"expires_at"`

	// RevokedAt is set when the provider reported the grant revoked.
	RevokedAt *Time `json:"revoked_at,omitempty"`
}

// TableName returns the table name for RefreshToken.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsExpired returns true if the grant is past its expiry.
func (t *RefreshToken) IsExpired(now Time) bool {
	return !t.ExpiresAt.After(now)
}
