package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

// Identity is the caller as reported by the identity service.
type Identity struct {
	UserId string `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

func (i Identity) Can(c Capability) bool {
	return Allowed(i.Role, c)
}

// Actor is the label stamped into *_by columns.
func (i Identity) Actor() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UserId
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = utils.SetUserIdInContext(ctx, id.UserId)
	ctx = utils.SetUserNameInContext(ctx, id.Name)
	return utils.SetUserRoleInContext(ctx, string(id.Role))
}

func FromContext(ctx context.Context) (Identity, bool) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == "" {
		return Identity{}, false
	}
	role, _ := utils.GetUserRoleFromContext(ctx)
	name, _ := utils.GetUserNameFromContext(ctx)
	return Identity{UserId: userId, Name: name, Role: Role(role)}, true
}

var ErrInvalidToken = errors.New("invalid token")

// Resolver turns an opaque caller token into an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// JWTResolver validates HMAC-signed bearer tokens.
type JWTResolver struct {
	Secret []byte
}

func (r JWTResolver) Resolve(_ context.Context, token string) (*Identity, error) {
	claims, err := utils.JwtValidate(r.Secret, token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Identity{UserId: claims.UserId, Name: claims.Name, Role: Role(claims.Role)}, nil
}

// SessionResolver looks up `Session:<token>` in Redis, written by the identity service.
type SessionResolver struct {
	Redis *redis.Client
}

func SessionKey(token string) string {
	return "Session:" + token
}

func (r SessionResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	if r.Redis == nil {
		return nil, errors.New("session store not ready")
	}
	var id Identity
	found, err := config.GetRedisObject(ctx, r.Redis, SessionKey(token), &id)
	if errors.Is(err, config.ErrRedisDecode) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(id.UserId) == "" {
		return nil, ErrInvalidToken
	}
	return &id, nil
}

// ChainResolver tries each resolver in order until one accepts the token.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	var lastErr error = ErrInvalidToken
	for _, r := range c {
		if r == nil {
			continue
		}
		id, err := r.Resolve(ctx, token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
