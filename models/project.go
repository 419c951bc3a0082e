package models

// ProjectType identifies the kind of training data a project holds
type ProjectType string

const (
	ProjectTypeImages  ProjectType = "images"
	ProjectTypeText    ProjectType = "text"
	ProjectTypeNumbers ProjectType = "numbers"
	ProjectTypeSounds  ProjectType = "sounds"
)

// Project identifies a training project
type Project struct {
	ID      string      `json:"id" db:"id"`
	ClassID string      `json:"class_id" db:"classid"`
	UserID  string      `json:"user_id" db:"userid"`
	Name    string      `json:"name" db:"name"`
	Type    ProjectType `json:"type" db:"typeid"`
	Labels  []string    `json:"labels" db:"labels"`
}

// TableName returns the table name for the Project model
func (Project) TableName() string {
	return "projects"
}

// ImageTraining is one stored training example for an images project
type ImageTraining struct {
	ID        string `json:"id" db:"id"`
	ProjectID string `json:"project_id" db:"projectid"`
	Label     string `json:"label" db:"label"`
	ImageURL  string `json:"image_url" db:"imageurl"`
	IsStored  bool   `json:"is_stored" db:"isstored"`
}

// TableName returns the table name for the ImageTraining model
func (ImageTraining) TableName() string {
	return "imagetraining"
}

// ImageKey addresses an uploaded training image in object storage
type ImageKey struct {
	ClassID   string
	UserID    string
	ProjectID string
	ObjectID  string
}

// ObjectName returns the object storage key for the image
func (k ImageKey) ObjectName() string {
	return k.ClassID + "/" + k.UserID + "/" + k.ProjectID + "/" + k.ObjectID
}

// StorageKey returns the object storage key for a stored training image.
// Stored images are referenced by their object id, kept in the image URL column.
func (t *ImageTraining) StorageKey(project *Project) ImageKey {
	return ImageKey{
		ClassID:   project.ClassID,
		UserID:    project.UserID,
		ProjectID: project.ID,
		ObjectID:  t.ImageURL,
	}
}
