package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services/training"
	"github.com/upb/classifier-control-plane/utils"
	"go.uber.org/zap"
)

// ClassifierService defines the classifier lifecycle operations exposed over HTTP
type ClassifierService interface {
	// Create trains a new classifier for the project
	Create(ctx context.Context, projectID string) (*models.Classifier, error)

	// List returns the project's classifiers with statuses refreshed from the backend
	List(ctx context.Context, projectID string) ([]*models.Classifier, error)

	// DeleteByID removes one classifier of the project
	DeleteByID(ctx context.Context, projectID string, id uuid.UUID) error

	// CleanupExpired removes every classifier past its expiry
	CleanupExpired(ctx context.Context) (*training.CleanupResult, error)
}

// ClassifierResponse represents a classifier in API responses
type ClassifierResponse struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    string    `json:"project_id"`
	ClassifierID string    `json:"classifier_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	URL          string    `json:"url"`
	Created      string    `json:"created"`
	Expiry       string    `json:"expiry"`
}

type projectPath struct {
	ProjectID string `path:"projectID" validate:"required,max=36,printascii"`
}

type modelPath struct {
	ProjectID string `path:"projectID" validate:"required,max=36,printascii"`
	ModelID   string `path:"modelID" validate:"required,uuid"`
}

// ClassifierHandler handles classifier-related HTTP requests
type ClassifierHandler struct {
	service ClassifierService
	logger  *zap.Logger
}

// NewClassifierHandler creates a new ClassifierHandler
func NewClassifierHandler(service ClassifierService, logger *zap.Logger) *ClassifierHandler {
	return &ClassifierHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCreate handles POST /api/v1/projects/{projectID}/models
func (h *ClassifierHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := projectPath{ProjectID: chi.URLParam(r, "projectID")}
	if err := utils.ValidateStruct(path); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Info("training classifier",
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("project_id", path.ProjectID))

	classifier, err := h.service.Create(ctx, path.ProjectID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, toClassifierResponse(classifier))
}

// HandleList handles GET /api/v1/projects/{projectID}/models
func (h *ClassifierHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	path := projectPath{ProjectID: chi.URLParam(r, "projectID")}
	if err := utils.ValidateStruct(path); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	classifiers, err := h.service.List(r.Context(), path.ProjectID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := make([]ClassifierResponse, len(classifiers))
	for i, c := range classifiers {
		response[i] = toClassifierResponse(c)
	}

	_ = utils.WriteOK(w, response)
}

// HandleDelete handles DELETE /api/v1/projects/{projectID}/models/{modelID}
func (h *ClassifierHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := modelPath{
		ProjectID: chi.URLParam(r, "projectID"),
		ModelID:   chi.URLParam(r, "modelID"),
	}
	if err := utils.ValidateStruct(path); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Info("deleting classifier",
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("project_id", path.ProjectID),
		zap.String("model_id", path.ModelID))

	if err := h.service.DeleteByID(ctx, path.ProjectID, uuid.MustParse(path.ModelID)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleCleanup handles POST /api/v1/admin/cleanup
func (h *ClassifierHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CleanupExpired(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("expired classifiers cleaned up",
		zap.Int("expired", result.Expired),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", result.Errors))

	_ = utils.WriteOK(w, result)
}

func toClassifierResponse(c *models.Classifier) ClassifierResponse {
	return ClassifierResponse{
		ID:           c.ID,
		ProjectID:    c.ProjectID,
		ClassifierID: c.ClassifierID,
		Name:         c.Name,
		Status:       c.Status,
		URL:          c.URL,
		Created:      c.Created.UTC().Format(time.RFC3339),
		Expiry:       c.Expiry.UTC().Format(time.RFC3339),
	}
}
