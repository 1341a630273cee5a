package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codetapasya-backend/internal/integrations/firebaseauth"
	"codetapasya-backend/internal/usecase"
)

const CorrelationHeader = "X-Correlation-Id"

// TokenVerifier resolves a bearer token to a subject id.
// *firebaseauth.Verifier satisfies this interface.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type subjectKey struct{}

// SubjectFromContext returns the subject set by Authenticate.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

func withSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subjectID)
}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(tv TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjectID, err := Authorize(r.Context(), tv, r.Header.Get("Authorization"))
			if err != nil {
				logger.Info("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), subjectID)))
		})
	}
}

// Authorize checks an Authorization header value and returns the subject id
// or a usecase UNAUTHORIZED error.
func Authorize(ctx context.Context, tv TokenVerifier, header string) (string, error) {
	token, err := firebaseauth.BearerToken(header)
	if errors.Is(err, firebaseauth.ErrMissingToken) {
		return "", usecase.Unauthorized("missing_token", err)
	}
	if err != nil {
		return "", usecase.Unauthorized("malformed_authorization", err)
	}
	subjectID, err := tv.Verify(ctx, token)
	if err != nil {
		return "", usecase.Unauthorized("invalid_token", err)
	}
	if strings.TrimSpace(subjectID) == "" {
		return "", usecase.Unauthorized("invalid_token", nil)
	}
	return subjectID, nil
}

// Correlation echoes X-Correlation-Id or generates one.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CorrelationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r)
	})
}

// CORS allows the configured origins. "*" allows any origin without
// credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, explicit := false, false
			for _, o := range allowedOrigins {
				if o == origin && origin != "" {
					allowed, explicit = true, true
					break
				}
				if o == "*" {
					allowed = true
				}
			}

			if allowed {
				if explicit {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CorrelationHeader)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
