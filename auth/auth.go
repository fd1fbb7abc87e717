package auth

import (
	"fmt"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is the key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Claims is the verified identity handed to the entitlement engine. Tokens
// are issued by the login service; this package only verifies them
type Claims struct {
	jwt.StandardClaims
	ID    string `json:"id"` // User id, the key for subscription and usage records
	Email string `json:"email"`
}

// Auth verifies bearer tokens on inbound requests
type Auth struct {
	Options
	jwtKey []byte
}

// Options provides initialization parameters for Auth
type Options struct {
	Logger        *zap.Logger
	JWTSigningKey string
}

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	return nil
}

// New will return a new instance of Auth for verifying caller identity
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}
	return &Auth{
		Options: option,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}
