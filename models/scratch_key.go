package models

import "time"

// ScratchKey is an access key that lets the Scratch runtime call a trained classifier
type ScratchKey struct {
	ID            string      `json:"id" db:"id"`
	ProjectID     string      `json:"project_id" db:"projectid"`
	ProjectType   ProjectType `json:"project_type" db:"projecttype"`
	ClassID       string      `json:"class_id" db:"classid"`
	UserID        string      `json:"user_id" db:"userid"`
	Name          string      `json:"name" db:"projectname"`
	CredentialsID *string     `json:"credentials_id,omitempty" db:"credentialsid"`
	ClassifierID  *string     `json:"classifier_id,omitempty" db:"classifierid"`
	Updated       time.Time   `json:"updated" db:"updated"`
}

// TableName returns the table name for the ScratchKey model
func (ScratchKey) TableName() string {
	return "scratchkeys"
}
