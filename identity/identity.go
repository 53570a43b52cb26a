// Package identity resolves who is calling.
//
// A Provider signs members up and in and hands out opaque session tokens. The transport puts
// the caller's token into the context with WithSessionToken; Resolve asks the provider which
// member owns it and turns the answer into a validated core.MemberID once, at the boundary,
// so lending operations never see an absent or empty member id.
package identity

import (
	"context"
	"errors"

	"github.com/digilib/lendingledger/core"
)

// ErrAuth signals missing or invalid credentials.
var ErrAuth = errors.New("authentication failed")

// Session is handed out by SignUp and SignIn. Token identifies the caller on later requests.
type Session struct {
	Token    string
	MemberID core.MemberID
}

type Provider interface {
	SignUp(ctx context.Context, email, displayName, password string, role core.Role) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, token string) error
	DeleteAccount(ctx context.Context, memberID core.MemberID) error

	// CurrentMember returns the member owning the session token carried by ctx.
	CurrentMember(ctx context.Context) (core.MemberID, bool)
}

type contextKey struct{}

// WithSessionToken returns a copy of ctx that carries the caller's session token.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// SessionTokenFromContext returns the token stored by WithSessionToken.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(contextKey{}).(string)
	return token, ok && token != ""
}

// Resolve returns the provider's current member as a validated id.
func Resolve(ctx context.Context, provider Provider) (core.MemberID, error) {
	raw, ok := provider.CurrentMember(ctx)
	if !ok {
		return "", errors.Join(ErrAuth, errors.New("no signed-in member"))
	}

	memberID, err := core.BuildMemberID(raw.String())
	if err != nil {
		return "", errors.Join(ErrAuth, err)
	}

	return memberID, nil
}
