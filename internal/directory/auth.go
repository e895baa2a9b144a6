package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classlab/realtime/pkg/envelope"
)

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	jwt.RegisteredClaims
}

// Authenticator verifies bearer credentials against a shared HMAC secret
// and resolves the subject through the store.
type Authenticator struct {
	secret []byte
	store  Store
	logger *slog.Logger
}

func NewAuthenticator(logger *slog.Logger, secret string, store Store) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		store:  store,
		logger: logger.With(slog.String("component", "authenticator")),
	}
}

// Authenticate validates a bearer token and resolves it to an identity.
// Every failure mode collapses into ErrAuthenticationFailed; the caller
// replies with a generic error and the client retries with a new JOIN.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (envelope.Identity, error) {
	tokenString := strings.TrimPrefix(credential, "Bearer ")
	if tokenString == "" {
		return envelope.Identity{}, ErrAuthenticationFailed
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		a.logger.Warn("Invalid token presented", slog.Any("error", err))
		return envelope.Identity{}, ErrAuthenticationFailed
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || claims.Subject == "" {
		a.logger.Warn("Valid token missing 'sub' claim")
		return envelope.Identity{}, ErrAuthenticationFailed
	}

	identity, err := a.store.FindUser(ctx, claims.Subject)
	if err != nil {
		a.logger.Warn("Token subject did not resolve to a user",
			slog.String("subject", claims.Subject),
			slog.Any("error", err),
		)
		return envelope.Identity{}, fmt.Errorf("%w: unknown subject", ErrAuthenticationFailed)
	}
	return identity, nil
}
