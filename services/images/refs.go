package images

import (
	"context"

	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services/objectstore"
)

// ImageRef points at one training image. The set of implementations is
// closed: WebImage and StoredImage.
type ImageRef interface {
	// Source describes where the image comes from, for error messages
	Source() string
	imageRef()
}

// WebImage is an image downloaded from an arbitrary URL
type WebImage struct {
	URL string
}

// Source implements ImageRef
func (r WebImage) Source() string { return r.URL }

func (WebImage) imageRef() {}

// StoredImage is an image uploaded by the user and kept in object storage
type StoredImage struct {
	Key models.ImageKey
}

// Source implements ImageRef
func (r StoredImage) Source() string { return "uploaded image " + r.Key.ObjectID }

func (StoredImage) imageRef() {}

// ImageStore retrieves uploaded images
type ImageStore interface {
	GetImage(ctx context.Context, key models.ImageKey) (*objectstore.Image, error)
}

// RefFor builds the reference for a stored training row of the project
func RefFor(project *models.Project, row *models.ImageTraining) ImageRef {
	if row.IsStored {
		return StoredImage{Key: row.StorageKey(project)}
	}
	return WebImage{URL: row.ImageURL}
}
