package models

import "time"

// Default policy values applied when a class has no tenant record
const (
	DefaultImageClassifierExpiryHours = 24
	DefaultMaxUsers                   = 30
	DefaultMaxProjectsPerUser         = 3
)

// Tenant is the policy record for a class
type Tenant struct {
	ID                    string `json:"id" db:"id"`
	MaxUsers              int    `json:"max_users" db:"maxusers"`
	MaxProjectsPerUser    int    `json:"max_projects_per_user" db:"maxprojectsperuser"`
	ImageClassifierExpiry int    `json:"image_classifier_expiry_hours" db:"imageclassifierexpiry"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// DefaultTenant returns the policy used for classes without a tenant record
func DefaultTenant(id string) *Tenant {
	return &Tenant{
		ID:                    id,
		MaxUsers:              DefaultMaxUsers,
		MaxProjectsPerUser:    DefaultMaxProjectsPerUser,
		ImageClassifierExpiry: DefaultImageClassifierExpiryHours,
	}
}

// ClassifierTTL returns how long image classifiers live for this tenant.
// Non-positive values fall back to the default so expiry is always after creation.
func (t *Tenant) ClassifierTTL() time.Duration {
	hours := t.ImageClassifierExpiry
	if hours <= 0 {
		hours = DefaultImageClassifierExpiryHours
	}
	return time.Duration(hours) * time.Hour
}
