package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/observability"
)

const (
	minPasswordLength = 8

	logMsgSignedUp       = "member signed up"
	logMsgSignInRejected = "sign in rejected"
	logMsgAccountDeleted = "account deleted"
	logAttrMemberID      = "member_id"
	logAttrRole          = "role"
)

var (
	ErrNilRegistrar      = errors.New("member registrar must not be nil")
	ErrNilGenerator      = errors.New("id generator must not be nil")
	ErrInvalidBcryptCost = errors.New("bcrypt cost out of range")

	errInvalidCredentials = errors.New("invalid email or password")
	errUnknownSession     = errors.New("unknown session")
)

// Registrar is the slice of the member directory the local provider needs.
type Registrar interface {
	Register(ctx context.Context, registration core.MemberRegistration) (core.Member, error)
	TouchLastLogin(ctx context.Context, memberID core.MemberID) (core.Member, error)
	Remove(ctx context.Context, memberID core.MemberID) error
}

// account with an empty memberID is an email reserved by a sign up still in flight.
type account struct {
	memberID core.MemberID
	hash     []byte
}

// LocalProvider keeps bcrypt hashes and session tokens in memory. Accounts and sessions
// do not survive a restart; the member documents it registers do.
type LocalProvider struct {
	registrar Registrar
	cost      int
	newID     func() string
	newToken  func() string
	observer  observability.Instrumentation

	mu       sync.RWMutex
	accounts map[string]account
	sessions map[string]core.MemberID
}

type LocalOption func(*LocalProvider) error

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) LocalOption {
	return func(p *LocalProvider) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return ErrInvalidBcryptCost
		}

		p.cost = cost

		return nil
	}
}

// WithMemberIDGenerator sets how ids of newly signed-up members are generated.
func WithMemberIDGenerator(newID func() string) LocalOption {
	return func(p *LocalProvider) error {
		if newID == nil {
			return ErrNilGenerator
		}

		p.newID = newID

		return nil
	}
}

func WithLogger(logger observability.Logger) LocalOption {
	return func(p *LocalProvider) error {
		p.observer.Logger = logger
		return nil
	}
}

func NewLocalProvider(registrar Registrar, options ...LocalOption) (*LocalProvider, error) {
	if registrar == nil {
		return nil, ErrNilRegistrar
	}

	p := &LocalProvider{
		registrar: registrar,
		cost:      bcrypt.DefaultCost,
		newID:     uuid.NewString,
		newToken:  uuid.NewString,
		accounts:  make(map[string]account),
		sessions:  make(map[string]core.MemberID),
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// SignUp creates the account, registers the member record and opens a session.
// An email that is already registered is a core.ErrValidation.
func (p *LocalProvider) SignUp(
	ctx context.Context,
	email, displayName, password string,
	role core.Role,
) (Session, error) {

	key := normalizeEmail(email)

	if len(password) < minPasswordLength {
		return Session{}, errors.Join(core.ErrValidation, fmt.Errorf("password must have at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Session{}, errors.Join(core.ErrValidation, err)
	}

	if err := p.reserve(key); err != nil {
		return Session{}, err
	}

	member, err := p.registrar.Register(ctx, core.MemberRegistration{
		ID:          core.MemberID(p.newID()),
		Role:        role,
		DisplayName: displayName,
		Email:       key,
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		delete(p.accounts, key)
		return Session{}, err
	}

	p.accounts[key] = account{memberID: member.ID, hash: hash}
	session := p.openSession(member.ID)

	p.observer.Info(ctx, logMsgSignedUp, logAttrMemberID, member.ID.String(), logAttrRole, role.String())

	return session, nil
}

// SignIn checks the password, stamps the member's last login and opens a session.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	p.mu.RLock()
	acc, ok := p.accounts[normalizeEmail(email)]
	p.mu.RUnlock()

	if !ok || acc.memberID == "" {
		return Session{}, errors.Join(ErrAuth, errInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		p.observer.Warn(ctx, logMsgSignInRejected, logAttrMemberID, acc.memberID.String())
		return Session{}, errors.Join(ErrAuth, errInvalidCredentials)
	}

	if _, err := p.registrar.TouchLastLogin(ctx, acc.memberID); err != nil {
		return Session{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.openSession(acc.memberID), nil
}

// SignOut ends the session. An unknown token is an ErrAuth.
func (p *LocalProvider) SignOut(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sessions[token]; !ok {
		return errors.Join(ErrAuth, errUnknownSession)
	}

	delete(p.sessions, token)

	return nil
}

// DeleteAccount removes the member record first, so a member who still holds books keeps
// both the record and the credentials. On success every session of the member ends.
func (p *LocalProvider) DeleteAccount(ctx context.Context, memberID core.MemberID) error {
	if err := p.registrar.Remove(ctx, memberID); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, acc := range p.accounts {
		if acc.memberID == memberID {
			delete(p.accounts, key)
		}
	}

	for token, owner := range p.sessions {
		if owner == memberID {
			delete(p.sessions, token)
		}
	}

	p.observer.Info(ctx, logMsgAccountDeleted, logAttrMemberID, memberID.String())

	return nil
}

// CurrentMember looks up the session token put into ctx by WithSessionToken.
func (p *LocalProvider) CurrentMember(ctx context.Context) (core.MemberID, bool) {
	token, ok := SessionTokenFromContext(ctx)
	if !ok {
		return "", false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	memberID, ok := p.sessions[token]

	return memberID, ok
}

func (p *LocalProvider) reserve(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[key]; exists {
		return errors.Join(core.ErrValidation, errors.New("email is already registered"))
	}

	p.accounts[key] = account{}

	return nil
}

// openSession must be called with p.mu held.
func (p *LocalProvider) openSession(memberID core.MemberID) Session {
	token := p.newToken()
	p.sessions[token] = memberID

	return Session{Token: token, MemberID: memberID}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
