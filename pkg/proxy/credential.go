package proxy

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/msgrelay/pkg/config"
	"github.com/lkarlslund/msgrelay/pkg/logutil"
)

var ErrMissingCredential = errors.New("missing api key")

const bearerPrefix = "Bearer "

// InboundHeaders holds request headers with lowercased names. It is built
// once per request so the rest of the pipeline never deals with casing.
type InboundHeaders map[string]string

func NewInboundHeaders(h http.Header) InboundHeaders {
	out := make(InboundHeaders, len(h))
	for k, vals := range h {
		if len(vals) == 0 {
			continue
		}
		out[strings.ToLower(k)] = vals[0]
	}
	return out
}

func (h InboundHeaders) Get(name string) string {
	return h[strings.ToLower(name)]
}

type CredentialResolver struct {
	defaultKey string
	force      bool
	logger     *log.Logger
}

func NewCredentialResolver(cfg *config.Config, logger *log.Logger) *CredentialResolver {
	return &CredentialResolver{
		defaultKey: cfg.DefaultAPIKey,
		force:      cfg.ForceDefaultAPIKey,
		logger:     logger,
	}
}

// Resolve returns the key to present upstream, or ErrMissingCredential.
func (r *CredentialResolver) Resolve(h InboundHeaders) (string, error) {
	if r.force {
		if r.defaultKey == "" {
			r.logger.Warn("force_default_api_key is set but no default api key is configured")
			return "", ErrMissingCredential
		}
		r.logger.Debug("using forced default api key", "key", logutil.MaskSecret(r.defaultKey))
		return r.defaultKey, nil
	}

	source := "authorization"
	key := h.Get("authorization")
	if key == "" {
		source = "x-api-key"
		key = h.Get("x-api-key")
	}
	key = strings.TrimPrefix(key, bearerPrefix)

	if key == "" && r.defaultKey != "" {
		source = "default"
		key = r.defaultKey
	}
	if key == "" {
		return "", ErrMissingCredential
	}
	r.logger.Debug("resolved api key", "source", source, "key", logutil.MaskSecret(key))
	return key, nil
}
