package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrNotReviewer          = errors.New("token carries no reviewer role")
)

// AuthService authenticates reviewer requests.
type AuthService interface {
	// ValidateRequest extracts the bearer token from the Authorization header
	// and validates it. Returns the claims and the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireReviewer checks that the claims carry one of the reviewer roles.
	RequireReviewer(claims *Claims) error
}

type authService struct {
	validator     TokenValidator
	reviewerRoles []string
	logger        *zap.Logger
}

// NewAuthService creates an AuthService. An empty reviewerRoles list accepts
// every authenticated caller.
func NewAuthService(validator TokenValidator, reviewerRoles []string, logger *zap.Logger) AuthService {
	return &authService{
		validator:     validator,
		reviewerRoles: reviewerRoles,
		logger:        logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}
	tokenString = strings.TrimSpace(tokenString)

	claims, err := s.validator.ValidateToken(r.Context(), tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) RequireReviewer(claims *Claims) error {
	if len(s.reviewerRoles) == 0 || claims.HasAnyRole(s.reviewerRoles) {
		return nil
	}
	s.logger.Warn("Caller lacks a reviewer role",
		zap.String("subject", claims.Subject),
		zap.Strings("roles", claims.Roles))
	return ErrNotReviewer
}

var _ AuthService = (*authService)(nil)
