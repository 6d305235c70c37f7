package service

import (
	"context"
)

// Identity is the caller behind a validated bearer token.
type Identity struct {
	UserID int64
	Token  string
}

// Gateway guards protected operations. Authenticate is the only path that
// extends a session.
type Gateway struct {
	sessions *SessionStore
}

func NewGateway(sessions *SessionStore) *Gateway {
	return &Gateway{sessions: sessions}
}

func (g *Gateway) Authenticate(ctx context.Context, token, ip string) (Identity, error) {
	const op = "gateway.Authenticate"
	unauthenticated := newError(op, KindUnauthenticated, "authentication required", nil)

	if token == "" {
		return Identity{}, unauthenticated
	}
	ok, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, unauthenticated
	}

	// expiry may pass between the two calls; refresh then reports false
	session, ok, err := g.sessions.refresh(ctx, token, ip)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, unauthenticated
	}
	return Identity{UserID: session.UserID, Token: token}, nil
}

func (g *Gateway) RequireSelf(target int64, id Identity) error {
	if id.UserID != target {
		return newError("gateway.RequireSelf", KindForbidden, "not allowed to access another user's resources", nil)
	}
	return nil
}
