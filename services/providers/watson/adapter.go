package watson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services/providers"
	"go.uber.org/zap"
)

const providerName = "watson"

// TokenSource supplies bearer tokens for credentials using the current auth scheme
type TokenSource interface {
	GetToken(ctx context.Context, apikey string) (string, error)
}

// Adapter implements providers.Backend for the Watson visual recognition v3 API
type Adapter struct {
	config     config.VisualRecognitionConfig
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewAdapter creates a new Watson visual recognition adapter
func NewAdapter(cfg config.VisualRecognitionConfig, tokens TokenSource, logger *zap.Logger) *Adapter {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 120 * time.Second
	}
	return &Adapter{
		config:     cfg,
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     logger,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// CreateClassifier streams a multipart form with the project name and one
// "<label>_positive_examples" archive per label.
func (a *Adapter) CreateClassifier(ctx context.Context, creds *models.Credentials, req *providers.CreateClassifierRequest) (*providers.ClassifierInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.UploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeTrainingForm(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, classifiersURL(creds), pr)
	if err != nil {
		pr.Close()
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var info watsonClassifier
	if err := a.do(ctx, httpReq, creds, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return info.toInfo(), nil
}

// GetClassifier fetches the classifier's remote state
func (a *Adapter) GetClassifier(ctx context.Context, creds *models.Credentials, classifierID string) (*providers.ClassifierInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.ReadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, classifierURL(creds, classifierID), nil)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	var info watsonClassifier
	if err := a.do(ctx, httpReq, creds, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return info.toInfo(), nil
}

// DeleteClassifier deletes the classifier. A missing classifier is reported
// as a ProviderError with status 404; see providers.IsNotFound.
func (a *Adapter) DeleteClassifier(ctx context.Context, creds *models.Credentials, classifierID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.ReadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, classifierURL(creds, classifierID), nil)
	if err != nil {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}
	return a.do(ctx, httpReq, creds, http.StatusOK, nil)
}

// do authenticates and executes the request, decoding a successful body into out
func (a *Adapter) do(ctx context.Context, httpReq *http.Request, creds *models.Credentials, wantStatus int, out interface{}) error {
	if err := a.authorize(ctx, httpReq, creds); err != nil {
		if httpReq.Body != nil {
			httpReq.Body.Close()
		}
		return err
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != wantStatus {
		return a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}
	return nil
}

// authorize adds the API version and the credentials for the request.
// Legacy credentials travel as an api_key query parameter; current ones
// as a bearer token from the token source.
func (a *Adapter) authorize(ctx context.Context, httpReq *http.Request, creds *models.Credentials) error {
	q := httpReq.URL.Query()
	q.Set("version", a.config.APIVersion)

	if creds.IsLegacy() {
		q.Set("api_key", creds.APIKey())
	} else {
		token, err := a.tokens.GetToken(ctx, creds.APIKey())
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpReq.URL.RawQuery = q.Encode()
	return nil
}

// handleErrorResponse turns a non-success response into a ProviderError.
// The error payload comes in several shapes; the description is pulled from
// whichever one is present.
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	code, message := parseErrorBody(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}

	provErr := providers.NewProviderError(a.Name(), code, message, statusCode, nil)
	provErr.Body = body
	return provErr
}

func parseErrorBody(body []byte) (code, message string) {
	var errResp watsonErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return "", strings.TrimSpace(string(body))
	}

	if len(errResp.Error) > 0 {
		var detail watsonErrorDetail
		if err := json.Unmarshal(errResp.Error, &detail); err == nil {
			return detail.ErrorID, detail.Description
		}
		var text string
		if err := json.Unmarshal(errResp.Error, &text); err == nil {
			return "", text
		}
	}
	if errResp.StatusInfo != "" {
		return errResp.Status, errResp.StatusInfo
	}
	return "", errResp.Description
}

func writeTrainingForm(mw *multipart.Writer, req *providers.CreateClassifierRequest) error {
	if err := mw.WriteField("name", req.Name); err != nil {
		return err
	}

	labels := make([]string, 0, len(req.Examples))
	for label := range req.Examples {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		if err := writeArchivePart(mw, label, req.Examples[label]); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeArchivePart(mw *multipart.Writer, label, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive for label %q: %w", label, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(label+"_positive_examples", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func classifiersURL(creds *models.Credentials) string {
	return strings.TrimSuffix(creds.URL, "/") + "/v3/classifiers"
}

func classifierURL(creds *models.Credentials, classifierID string) string {
	return classifiersURL(creds) + "/" + classifierID
}

// Watson-specific response types

type watsonClassifier struct {
	ClassifierID string        `json:"classifier_id"`
	Name         string        `json:"name"`
	Owner        string        `json:"owner"`
	Status       string        `json:"status"`
	Created      string        `json:"created"`
	Classes      []watsonClass `json:"classes"`
}

type watsonClass struct {
	Class string `json:"class"`
}

type watsonErrorResponse struct {
	Error       json.RawMessage `json:"error"`
	Code        int             `json:"code"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	StatusInfo  string          `json:"statusInfo"`
}

type watsonErrorDetail struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	ErrorID     string `json:"error_id"`
}

func (c *watsonClassifier) toInfo() *providers.ClassifierInfo {
	info := &providers.ClassifierInfo{
		ClassifierID: c.ClassifierID,
		Name:         c.Name,
		Owner:        c.Owner,
		Status:       c.Status,
		Classes:      make([]string, 0, len(c.Classes)),
	}
	if created, err := time.Parse(time.RFC3339, c.Created); err == nil {
		info.Created = created
	}
	for _, class := range c.Classes {
		info.Classes = append(info.Classes, class.Class)
	}
	return info
}
