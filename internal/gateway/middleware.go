package gateway

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/rants/pkg/models"
)

type contextKey string

const tenantKey contextKey = "tenant"

// anonymousTenant is used when authentication is disabled.
const anonymousTenant = "anonymous"

// tenantFrom returns the authenticated tenant set by protect.
func tenantFrom(ctx context.Context) string {
	if tenant, ok := ctx.Value(tenantKey).(string); ok {
		return tenant
	}
	return anonymousTenant
}

// protect wraps an API handler with authentication, per-tenant rate
// limiting, and request metrics, in that order.
func (s *Server) protect(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		tenant, ok := s.authenticate(r)
		if !ok {
			writeError(recorder, http.StatusUnauthorized, string(models.ErrKindBadRequest),
				"missing or invalid API key")
			s.observe(endpoint, recorder.status, start)
			return
		}

		if s.limiter != nil && !s.limiter.Allow(tenant) {
			wait := s.limiter.WaitTime(tenant)
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			recorder.Header().Set("Retry-After", strconv.Itoa(secs))
			if s.metrics != nil {
				s.metrics.RateLimitDenials.Inc()
			}
			writeError(recorder, http.StatusTooManyRequests, string(models.ErrKindRateLimited),
				"rate limit exceeded")
			s.observe(endpoint, recorder.status, start)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		next(recorder, r.WithContext(ctx))
		s.observe(endpoint, recorder.status, start)
	}
}

// authenticate resolves the bearer key to a tenant. With auth disabled
// every request maps to the anonymous tenant.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.cfg.Auth.Enabled {
		return anonymousTenant, true
	}
	header := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || key == "" {
		return "", false
	}
	for _, entry := range s.cfg.Auth.APIKeys {
		if entry.Key == key {
			return entry.TenantID, true
		}
	}
	return "", false
}

func (s *Server) observe(endpoint string, status int, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.HTTPRequestCounter.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	s.metrics.HTTPRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// statusRecorder captures the status code for metrics while passing
// Flush through for SSE.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
