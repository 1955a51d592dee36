package supabase

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

var (
	ErrSessionExpired = stderrors.New("session has expired")
	ErrInvalidSession = stderrors.New("invalid session token")
)

// sessionClaims is the part of a Supabase access token the app reads.
type sessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityConfig configures how the session token is checked.
type IdentityConfig struct {
	// JWTSecret verifies the HS256 signature locally when set
	JWTSecret string
	// VerifyRemote asks Supabase Auth for the user on every call
	VerifyRemote bool
}

// Identity implements ports.IdentityProvider from the session access token.
type Identity struct {
	client *supa.Client
	config IdentityConfig
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
}

// NewIdentity creates an identity for the given token; an empty token means signed out.
// client is only used when VerifyRemote is set.
func NewIdentity(client *supa.Client, token string, config IdentityConfig, logger *zap.Logger) *Identity {
	return &Identity{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
		token:  strings.TrimPrefix(token, "Bearer "),
	}
}

// SetSession replaces the access token.
func (i *Identity) SetSession(token string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.token = strings.TrimPrefix(token, "Bearer ")
}

// ClearSession signs out.
func (i *Identity) ClearSession() {
	i.SetSession("")
}

// CurrentUser returns nil when no session is held.
func (i *Identity) CurrentUser(ctx context.Context) (*ports.UserIdentity, error) {
	i.mu.RLock()
	token := i.token
	i.mu.RUnlock()
	if token == "" {
		return nil, nil
	}

	claims, err := i.parse(token)
	if err != nil {
		return nil, err
	}
	user := &ports.UserIdentity{ID: claims.Subject, Email: claims.Email}

	if i.config.VerifyRemote && i.client != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remote, err := i.client.Auth.WithToken(token).GetUser()
		if err != nil {
			i.logger.Warn("session rejected by auth server", zap.Error(err))
			return nil, errors.NewExternalError("gotrue", err)
		}
		user.ID = remote.ID.String()
		if remote.Email != "" {
			user.Email = remote.Email
		}
	}
	return user, nil
}

func (i *Identity) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}

	var err error
	if i.config.JWTSecret != "" {
		_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, stderrors.New("unexpected signing method")
			}
			return []byte(i.config.JWTSecret), nil
		}, jwt.WithTimeFunc(i.now))
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
		if err == nil && claims.ExpiresAt != nil && claims.ExpiresAt.Before(i.now()) {
			err = jwt.ErrTokenExpired
		}
	}

	switch {
	case err == nil:
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return nil, errors.NewValidationError(ErrSessionExpired.Error()).WithCause(ErrSessionExpired)
	default:
		return nil, errors.NewValidationError(ErrInvalidSession.Error()).WithCause(err)
	}

	if claims.Subject == "" {
		return nil, errors.NewValidationError("session token has no subject").WithCause(ErrInvalidSession)
	}
	return claims, nil
}
