package users

import (
	"context"
	"fmt"
	"time"

	"github.com/kabsmeiou/Pamahres/internal/clerk"
	"github.com/kabsmeiou/Pamahres/internal/models"
	"github.com/kabsmeiou/Pamahres/pkg/logger"
	"github.com/kabsmeiou/Pamahres/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/kabsmeiou/Pamahres/internal/users")

// InfoFetcher resolves a provider user ID to profile attributes.
type InfoFetcher interface {
	FetchUserInfo(ctx context.Context, userID string) (clerk.UserInfo, bool)
}

// Service maps verified subjects to local users, creating them on first sight.
type Service struct {
	repo     UserRepository
	info     InfoFetcher
	inflight singleflight.Group

	// bound on a detached provisioning call
	timeout time.Duration
}

func NewService(r UserRepository, info InfoFetcher) *Service {
	return &Service{repo: r, info: info, timeout: 30 * time.Second}
}

// ResolveOrCreate returns the user whose username is subject. A missing user is
// created with the provider's email and names; when the provider lookup fails
// the user is still created with those fields empty. Existing users are never
// updated.
func (s *Service) ResolveOrCreate(ctx context.Context, subject string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "users.ResolveOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("user.subject", subject))

	start := time.Now()
	u, created, err := s.resolveOrCreate(ctx, subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provisioning failed")
		return nil, err
	}
	logger.Infof("Time to get or create user: %.3f seconds", time.Since(start).Seconds())
	span.SetAttributes(attribute.Bool("user.created", created))
	return u, nil
}

func (s *Service) resolveOrCreate(ctx context.Context, subject string) (*models.User, bool, error) {
	u, err := s.repo.GetByUsername(ctx, subject)
	if err != nil {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}
	if u != nil {
		return u, false, nil
	}

	type result struct {
		user    *models.User
		created bool
	}
	// The shared call outlives a caller that gives up; followers keep waiting
	// on it while their own ctx is live.
	ch := s.inflight.DoChan(subject, func() (interface{}, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		info, ok := s.info.FetchUserInfo(pctx, subject)
		if !ok {
			logger.Warnf("provisioning %s without provider profile", subject)
		}
		nu := &models.User{
			Username:  subject,
			Email:     info.EmailAddress,
			FirstName: info.FirstName,
			LastName:  info.LastName,
		}
		stored, created, err := s.repo.CreateWithDependents(pctx, nu)
		if err != nil {
			return nil, fmt.Errorf("create user %s: %w", subject, err)
		}
		if created {
			metrics.UsersProvisioned.Inc()
			logger.Infof("User %s created in database", subject)
		}
		return result{user: stored, created: created}, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(result)
		return r.user, r.created, nil
	}
}
