package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kabsmeiou/Pamahres/internal/auth"
	"github.com/kabsmeiou/Pamahres/internal/models"
	"github.com/kabsmeiou/Pamahres/pkg/logger"
	"github.com/kabsmeiou/Pamahres/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Context keys set by Authenticate.
const (
	UserKey   = "user"
	ClaimsKey = "claims"
)

var tracer = otel.Tracer("github.com/kabsmeiou/Pamahres/pkg/middleware")

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (*auth.Claims, error)
}

// Provisioner maps a verified subject to a local user.
type Provisioner interface {
	ResolveOrCreate(ctx context.Context, subject string) (*models.User, error)
}

// Authenticator turns an Authorization header into a local user.
type Authenticator struct {
	verifier Verifier
	users    Provisioner
}

func NewAuthenticator(v Verifier, users Provisioner) *Authenticator {
	return &Authenticator{verifier: v, users: users}
}

// Authenticate returns (nil, nil) for anonymous requests: no Authorization
// header, or a verified token without a subject.
func (a *Authenticator) Authenticate(r *http.Request) (*models.User, error) {
	u, _, err := a.authenticate(r)
	return u, err
}

func (a *Authenticator) authenticate(r *http.Request) (*models.User, *auth.Claims, error) {
	ctx, span := tracer.Start(r.Context(), "middleware.Authenticate")
	defer span.End()

	header := r.Header.Get("Authorization")
	if header == "" {
		metrics.AuthAttempts.WithLabelValues("anonymous").Inc()
		return nil, nil, nil
	}

	// The scheme word is not checked; the second part is taken as the token.
	parts := strings.Split(header, " ")
	if len(parts) < 2 {
		metrics.AuthAttempts.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, auth.ReasonBearerMissing)
		return nil, nil, auth.ErrBearerMissing
	}

	claims, err := a.verifier.Verify(ctx, parts[1])
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, auth.Reason(err))
		return nil, nil, err
	}
	if claims.Subject == "" {
		metrics.AuthAttempts.WithLabelValues("anonymous").Inc()
		return nil, claims, nil
	}
	span.SetAttributes(attribute.String("user.subject", claims.Subject))

	u, err := a.users.ResolveOrCreate(ctx, claims.Subject)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "user provisioning failed")
		return nil, claims, err
	}
	metrics.AuthAttempts.WithLabelValues("authenticated").Inc()
	return u, claims, nil
}

// Authenticate returns a Gin middleware that attaches the local user when the
// request carries a valid bearer token. Anonymous requests pass through.
func Authenticate(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, claims, err := a.authenticate(c.Request)
		if err != nil {
			var ae *auth.AuthError
			if errors.As(err, &ae) {
				logger.Debugf("rejected token: %v", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": ae.Reason})
				return
			}
			logger.Errorf("authentication failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
			return
		}
		if claims != nil {
			c.Set(ClaimsKey, claims)
		}
		if u != nil {
			c.Set(UserKey, u)
		}
		c.Next()
	}
}

// RequireUser aborts with 401 unless Authenticate attached a user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
