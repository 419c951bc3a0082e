package iam

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
)

var (
	tokenCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iam_token_cache_hits_total",
		Help: "Bearer token lookups served from the cache",
	})
	tokenCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iam_token_cache_misses_total",
		Help: "Bearer token lookups that required an exchange",
	})
	tokenExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iam_token_exchanges_total",
		Help: "API key exchanges with the identity service by outcome",
	}, []string{"outcome"})
)

// CachedToken is a bearer token together with its safety-margined expiry
type CachedToken struct {
	Token  string
	Expiry time.Time
}

// TokenCache hands out bearer tokens for API keys, exchanging only when the
// cached token is missing or past its computed expiry.
type TokenCache struct {
	cache        *expirable.LRU[string, CachedToken]
	exchanger    Exchanger
	safetyMargin time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewTokenCache creates a token cache bounded by size and a hard TTL
func NewTokenCache(exchanger Exchanger, cfg config.IdentityConfig, logger *zap.Logger) *TokenCache {
	return &TokenCache{
		cache:        expirable.NewLRU[string, CachedToken](cfg.CacheSize, nil, cfg.CacheTTL),
		exchanger:    exchanger,
		safetyMargin: cfg.SafetyMargin,
		now:          time.Now,
		logger:       logger,
	}
}

// Init empties the cache. Safe to call more than once.
func (c *TokenCache) Init() {
	c.cache.Purge()
	c.logger.Debug("token cache initialized")
}

// GetToken returns a bearer token for the API key
func (c *TokenCache) GetToken(ctx context.Context, apikey string) (string, error) {
	now := c.now()
	if cached, ok := c.cache.Get(apikey); ok && cached.Expiry.After(now) {
		tokenCacheHitsTotal.Inc()
		return cached.Token, nil
	}
	tokenCacheMissesTotal.Inc()

	resp, err := c.exchanger.Exchange(ctx, apikey)
	if err != nil {
		tokenExchangesTotal.WithLabelValues(string(services.GetErrorKind(err))).Inc()
		return "", err
	}
	tokenExchangesTotal.WithLabelValues("ok").Inc()

	expiry := now.Add(time.Duration(resp.ExpiresIn)*time.Second - c.safetyMargin)
	if expiry.After(now) {
		c.cache.Add(apikey, CachedToken{Token: resp.AccessToken, Expiry: expiry})
	} else {
		c.logger.Warn("identity token lifetime shorter than safety margin, not caching",
			zap.Int("expires_in", resp.ExpiresIn))
	}

	return resp.AccessToken, nil
}

// Len reports the number of cached tokens
func (c *TokenCache) Len() int {
	return c.cache.Len()
}
