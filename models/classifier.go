package models

import (
	"time"

	"github.com/google/uuid"
)

// Classifier statuses reported by the learning backend, plus the local sentinel
// used when the status could not be fetched.
const (
	ClassifierStatusTraining    = "training"
	ClassifierStatusReady       = "ready"
	ClassifierStatusFailed      = "failed"
	ClassifierStatusNonExistent = "Non Existent"
)

// Classifier is one trained model hosted by the learning backend
type Classifier struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ProjectID     string    `json:"project_id" db:"projectid"`
	UserID        string    `json:"user_id" db:"userid"`
	ClassID       string    `json:"class_id" db:"classid"`
	CredentialsID string    `json:"credentials_id" db:"credentialsid"`
	ClassifierID  string    `json:"classifier_id" db:"classifierid"`
	Name          string    `json:"name" db:"name"`
	Created       time.Time `json:"created" db:"created"`
	Expiry        time.Time `json:"expiry" db:"expiry"`
	Status        string    `json:"status" db:"-"`
	URL           string    `json:"url" db:"url"`
}

// TableName returns the table name for the Classifier model
func (Classifier) TableName() string {
	return "imageclassifiers"
}

// NewClassifier creates a Classifier for a project trained with the given credentials.
// The expiry is created plus ttl.
func NewClassifier(project *Project, creds *Credentials, classifierID, status string, created time.Time, ttl time.Duration) *Classifier {
	return &Classifier{
		ID:            uuid.New(),
		ProjectID:     project.ID,
		UserID:        project.UserID,
		ClassID:       project.ClassID,
		CredentialsID: creds.ID,
		ClassifierID:  classifierID,
		Name:          project.Name,
		Created:       created,
		Expiry:        created.Add(ttl),
		Status:        status,
		URL:           creds.URL + "/v3/classifiers/" + classifierID,
	}
}
