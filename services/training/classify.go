package training

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/upb/classifier-control-plane/models"
	"github.com/upb/classifier-control-plane/services"
	"github.com/upb/classifier-control-plane/services/notify"
	"github.com/upb/classifier-control-plane/services/providers"
)

// quotaMessage matches the backend's "only N custom classifier(s)" limit wording
var quotaMessage = regexp.MustCompile(`only \d+ custom classifiers?`)

// attemptResult is the outcome of submitting training with one credential set.
// A fatal result stops iteration over the pool. A non-empty alert names the
// channel administrators are told on.
type attemptResult struct {
	classifier *models.Classifier
	err        error
	fatal      bool
	alert      notify.Channel
}

// classifyFailure maps a failed submission onto the training error taxonomy
func classifyFailure(err error) attemptResult {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		// Bearer token exchange failed before the backend was reached
		switch domainErr.Kind {
		case services.KindRateLimited:
			return attemptResult{err: services.Derive(services.ErrAPIKeyRateLimited, err)}
		case services.KindInvalidAPIKey, services.KindBlockedAPIKey:
			return attemptResult{err: err, fatal: true, alert: notify.ChannelCredentials}
		case services.KindUnknown:
			return attemptResult{err: err, fatal: true, alert: notify.ChannelErrors}
		}
		return attemptResult{err: err, fatal: true}
	}

	provErr, ok := providers.AsProviderError(err)
	if !ok {
		return attemptResult{err: services.Derive(services.ErrUnknownTrainingFailure, err), fatal: true, alert: notify.ChannelErrors}
	}

	text := strings.ToLower(provErr.Message + " " + string(provErr.Body))

	switch {
	case provErr.StatusCode == http.StatusTooManyRequests, strings.Contains(text, "over transaction limit"):
		return attemptResult{err: services.Derive(services.ErrAPIKeyRateLimited, err)}
	case strings.Contains(text, "already exist") && quotaMessage.MatchString(text):
		return attemptResult{err: services.Derive(services.ErrInsufficientAPIKeys, err)}
	case provErr.StatusCode == http.StatusUnauthorized, provErr.StatusCode == http.StatusForbidden:
		return attemptResult{err: services.Derive(services.ErrAuthorizationRejected, err), fatal: true, alert: notify.ChannelCredentials}
	default:
		return attemptResult{err: services.Derive(services.ErrUnknownTrainingFailure, err), fatal: true, alert: notify.ChannelErrors}
	}
}
