package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenSource supplies the bearer token sent to the task service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a pre-issued token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

const (
	defaultServiceTokenTTL = 10 * time.Minute
	serviceTokenLeeway     = 30 * time.Second
)

// ServiceTokenSource mints HS256 tokens signed with a secret shared with the
// task service and reuses each one until shortly before it expires.
type ServiceTokenSource struct {
	Secret   []byte
	Subject  string
	Audience string
	Issuer   string
	TTL      time.Duration

	now func() time.Time

	mu      sync.Mutex
	current string
	expires time.Time
}

// NewServiceTokenSource creates a token source for the given subject.
func NewServiceTokenSource(secret []byte, subject, audience, issuer string, ttl time.Duration) *ServiceTokenSource {
	if ttl <= 0 {
		ttl = defaultServiceTokenTTL
	}
	return &ServiceTokenSource{
		Secret:   secret,
		Subject:  subject,
		Audience: audience,
		Issuer:   issuer,
		TTL:      ttl,
		now:      time.Now,
	}
}

func (s *ServiceTokenSource) Token(context.Context) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("service token secret is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.current != "" && now.Add(serviceTokenLeeway).Before(s.expires) {
		return s.current, nil
	}

	expires := now.Add(s.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   s.Subject,
		Issuer:    s.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	s.current = signed
	s.expires = expires
	return signed, nil
}

func (s *ServiceTokenSource) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
