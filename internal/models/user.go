package models

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/recarr/internal/resolve"
)

// UserRole represents the permission level of a user.
type UserRole string

const (
	// RoleAdmin grants administrative access.
	RoleAdmin UserRole = "admin"
	// RoleUser is the default tenant role.
	RoleUser UserRole = "user"
)

// User is the tenant root. Every other entity carries its id, and every
// query that surfaces data is filtered by it.
type User struct {
	BaseModel

	// Slug is a stable numeric ordinal used in filesystem paths
	// (user_000042). Assigned once at creation and never reused.
	Slug int `gorm:"uniqueIndex;not null" json:"slug"`

	// Email is the login identity.
	Email string `gorm:"uniqueIndex;not null;size:255" json:"email"`

	// DisplayName is a human-friendly name.
	DisplayName string `gorm:"size:255" json:"display_name,omitempty"`

	// Role determines permissions.
	Role UserRole `gorm:"not null;default:'user';size:20" json:"role"`

	// Timezone is an IANA zone name used for schedule evaluation.
	Timezone string `gorm:"size:64;default:'UTC'" json:"timezone"`

	// APIKeyHash is the SHA-256 hex digest of the user's API key.
	APIKeyHash string `gorm:"size:64;index" json:"-"`

	// Enabled gates all activity for the tenant.
	Enabled *bool `gorm:"default:true" json:"enabled"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// IsAdmin returns true for administrative users.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsEnabled returns true unless the tenant is explicitly disabled.
func (u *User) IsEnabled() bool {
	return BoolVal(u.Enabled)
}

// Validate performs basic validation on the user.
func (u *User) Validate() error {
	if u.Email == "" {
		return ErrValidation{Field: "email", Message: "email is required"}
	}
	return nil
}

// BeforeCreate validates the user and generates the ULID.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if err := u.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return u.Validate()
}

// UserConfig stores the tenant's configuration: system defaults merged with
// the user's overrides at write time. It is the lowest layer of the
// effective-config merge.
type UserConfig struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);uniqueIndex;not null" json:"user_id"`

	// Processing is the processing-config layer.
	Processing *resolve.ProcessingConfig `gorm:"type:text;serializer:json" json:"processing,omitempty"`

	// Metadata is the default upload-metadata layer.
	Metadata *resolve.MetadataConfig `gorm:"type:text;serializer:json" json:"metadata,omitempty"`

	// Output is the default output layer.
	Output *resolve.OutputConfig `gorm:"type:text;serializer:json" json:"output,omitempty"`
}

// TableName returns the table name for UserConfig.
func (UserConfig) TableName() string {
	return "user_configs"
}

// RetentionOrDefault returns the user's retention windows, falling back to
// the system defaults when unset.
func (c *UserConfig) RetentionOrDefault() *resolve.RetentionConfig {
	if c != nil && c.Processing != nil && c.Processing.Retention != nil {
		return c.Processing.Retention.Clone()
	}
	return &resolve.RetentionConfig{}
}
