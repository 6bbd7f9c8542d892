package auth

import (
	"context"
	"errors"
)

const (
	RoleAdmin = "app-admin"
	RoleUser  = "app-user"
)

var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Enabled  bool
	Issuer   string
	JWKSURL  string
	Audience string
}

// Authenticator verifies a bearer token and returns the identity it carries.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Principal, error)
}
