package models

import "time"

// CredentialsType distinguishes how a set of credentials authenticates with the backend
type CredentialsType string

const (
	// CredentialsTypeLegacy sends the API key as an api_key query parameter
	CredentialsTypeLegacy CredentialsType = "legacy"

	// CredentialsTypeCurrent exchanges the API key for a bearer token with the identity service
	CredentialsTypeCurrent CredentialsType = "current"
)

// ServiceTypeVisualRecognition is the service type of image classifier credentials
const ServiceTypeVisualRecognition = "visrec"

// Credentials is a tenant-scoped set of access parameters for one learning-backend instance.
// Credentials are immutable once issued.
type Credentials struct {
	ID          string          `json:"id" db:"id"`
	ServiceType string          `json:"service_type" db:"servicetype"`
	URL         string          `json:"url" db:"url"`
	Username    string          `json:"-" db:"username"`
	Password    string          `json:"-" db:"password"`
	CredType    CredentialsType `json:"credentials_type" db:"credstypeid"`
	ClassID     string          `json:"class_id" db:"classid"`
	Created     time.Time       `json:"created" db:"created"`
}

// TableName returns the table name for the Credentials model
func (Credentials) TableName() string {
	return "bluemixcredentials"
}

// APIKey returns the secret used to authenticate with the backend.
// The key is stored split across the username and password columns.
func (c *Credentials) APIKey() string {
	return c.Username + c.Password
}

// IsLegacy reports whether the credentials use query-parameter API key auth
func (c *Credentials) IsLegacy() bool {
	return c.CredType != CredentialsTypeCurrent
}
