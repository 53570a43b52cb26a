package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore/memengine"
	"github.com/digilib/lendingledger/identity"
	"github.com/digilib/lendingledger/members"
)

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func givenProvider(t *testing.T) (*identity.LocalProvider, *members.Directory) {
	t.Helper()

	store, err := memengine.NewStore()
	require.NoError(t, err)

	clock := &steppingClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	directory, err := members.New(store, members.WithClock(clock.Now))
	require.NoError(t, err)

	provider, err := identity.NewLocalProvider(directory, identity.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	return provider, directory
}

func Test_NewLocalProvider_InvalidInput(t *testing.T) {
	_, err := identity.NewLocalProvider(nil)
	assert.ErrorIs(t, err, identity.ErrNilRegistrar)

	_, directory := givenProvider(t)
	_, err = identity.NewLocalProvider(directory, identity.WithBcryptCost(bcrypt.MaxCost+1))
	assert.ErrorIs(t, err, identity.ErrInvalidBcryptCost)

	_, err = identity.NewLocalProvider(directory, identity.WithMemberIDGenerator(nil))
	assert.ErrorIs(t, err, identity.ErrNilGenerator)
}

func Test_SignUp_RegistersMemberAndOpensSession(t *testing.T) {
	// arrange
	provider, directory := givenProvider(t)
	ctx := context.Background()

	// act
	session, err := provider.SignUp(ctx, " Ada@Library.test ", "Ada", "correct horse", core.RoleUser)

	// assert
	require.NoError(t, err)
	assert.NotEmpty(t, session.MemberID)
	assert.NotEmpty(t, session.Token)
	assert.NotEqual(t, session.MemberID.String(), session.Token)

	member, err := directory.Get(ctx, session.MemberID)
	require.NoError(t, err)
	assert.Equal(t, "ada@library.test", member.Email)
	assert.Equal(t, core.RoleUser, member.Role)

	current, ok := provider.CurrentMember(identity.WithSessionToken(ctx, session.Token))
	assert.True(t, ok)
	assert.Equal(t, session.MemberID, current)
}

func Test_SignUp_Rejections(t *testing.T) {
	provider, _ := givenProvider(t)
	ctx := context.Background()

	_, err := provider.SignUp(ctx, "ada@library.test", "Ada", "short", core.RoleUser)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = provider.SignUp(ctx, "not-an-email", "Ada", "long enough", core.RoleUser)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = provider.SignUp(ctx, "ada@library.test", "Ada", "long enough", core.RoleUser)
	require.NoError(t, err)

	_, err = provider.SignUp(ctx, "ADA@library.test", "Ada again", "long enough", core.RoleUser)
	assert.ErrorIs(t, err, core.ErrValidation)
}

// blockingRegistrar holds Register until release is closed.
type blockingRegistrar struct {
	*members.Directory
	entered chan struct{}
	release chan struct{}
	err     error
}

func (r *blockingRegistrar) Register(ctx context.Context, registration core.MemberRegistration) (core.Member, error) {
	close(r.entered)
	<-r.release

	if r.err != nil {
		return core.Member{}, r.err
	}

	return r.Directory.Register(ctx, registration)
}

func Test_SignUp_DoesNotHoldLockWhileRegistering(t *testing.T) {
	// arrange
	_, directory := givenProvider(t)
	registrar := &blockingRegistrar{
		Directory: directory,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
		err:       core.ErrUpstreamUnavailable,
	}

	provider, err := identity.NewLocalProvider(registrar, identity.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	ctx := context.Background()
	signUpErr := make(chan error, 1)

	go func() {
		_, err := provider.SignUp(ctx, "bob@library.test", "Bob", "correct horse", core.RoleUser)
		signUpErr <- err
	}()

	<-registrar.entered

	// act
	_, signIn := provider.SignIn(ctx, "ada@library.test", "correct horse")
	_, duplicate := provider.SignUp(ctx, "bob@library.test", "Bob", "correct horse", core.RoleUser)
	_, pending := provider.SignIn(ctx, "bob@library.test", "correct horse")

	close(registrar.release)

	// assert
	assert.ErrorIs(t, signIn, identity.ErrAuth)
	assert.ErrorIs(t, duplicate, core.ErrValidation)
	assert.ErrorIs(t, pending, identity.ErrAuth)

	select {
	case err := <-signUpErr:
		assert.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("sign up did not finish")
	}

	registrar.err = nil
	registrar.entered = make(chan struct{})
	registrar.release = make(chan struct{})
	close(registrar.release)

	session, err := provider.SignUp(ctx, "bob@library.test", "Bob", "correct horse", core.RoleUser)
	require.NoError(t, err, "a failed sign up must release the email")
	assert.NotEmpty(t, session.Token)
}

func Test_SignIn_StampsLastLogin(t *testing.T) {
	// arrange
	provider, directory := givenProvider(t)
	ctx := context.Background()

	signedUp, err := provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleAdmin)
	require.NoError(t, err)

	before, err := directory.Get(ctx, signedUp.MemberID)
	require.NoError(t, err)

	// act
	signedIn, err := provider.SignIn(ctx, "ada@library.test", "correct horse")

	// assert
	require.NoError(t, err)
	assert.Equal(t, signedUp.MemberID, signedIn.MemberID)
	assert.NotEqual(t, signedUp.Token, signedIn.Token)

	after, err := directory.Get(ctx, signedUp.MemberID)
	require.NoError(t, err)
	assert.True(t, after.LastLogin.After(before.LastLogin))
}

func Test_SignIn_WrongCredentials(t *testing.T) {
	provider, _ := givenProvider(t)
	ctx := context.Background()

	_, err := provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleUser)
	require.NoError(t, err)

	_, err = provider.SignIn(ctx, "ada@library.test", "wrong horse")
	assert.ErrorIs(t, err, identity.ErrAuth)

	_, err = provider.SignIn(ctx, "bob@library.test", "correct horse")
	assert.ErrorIs(t, err, identity.ErrAuth)
}

func Test_SignOut_EndsSession(t *testing.T) {
	// arrange
	provider, _ := givenProvider(t)
	ctx := context.Background()

	session, err := provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleUser)
	require.NoError(t, err)

	// act
	err = provider.SignOut(ctx, session.Token)

	// assert
	require.NoError(t, err)

	_, ok := provider.CurrentMember(identity.WithSessionToken(ctx, session.Token))
	assert.False(t, ok)
	assert.ErrorIs(t, provider.SignOut(ctx, session.Token), identity.ErrAuth)
}

func Test_DeleteAccount(t *testing.T) {
	// arrange
	provider, directory := givenProvider(t)
	ctx := context.Background()

	session, err := provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleUser)
	require.NoError(t, err)

	// act
	err = provider.DeleteAccount(ctx, session.MemberID)

	// assert
	require.NoError(t, err)

	_, err = directory.Get(ctx, session.MemberID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, ok := provider.CurrentMember(identity.WithSessionToken(ctx, session.Token))
	assert.False(t, ok)

	_, err = provider.SignIn(ctx, "ada@library.test", "correct horse")
	assert.ErrorIs(t, err, identity.ErrAuth)

	_, err = provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleUser)
	assert.NoError(t, err)
}

// failingRegistrar rejects every removal.
type failingRegistrar struct {
	*members.Directory
}

func (failingRegistrar) Remove(context.Context, core.MemberID) error {
	return errors.Join(core.ErrMemberHasLoans, errors.New("holds b1"))
}

func Test_DeleteAccount_KeepsCredentialsWhenRemovalFails(t *testing.T) {
	_, directory := givenProvider(t)
	provider, err := identity.NewLocalProvider(failingRegistrar{directory}, identity.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	ctx := context.Background()
	session, err := provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleUser)
	require.NoError(t, err)

	err = provider.DeleteAccount(ctx, session.MemberID)
	assert.ErrorIs(t, err, core.ErrMemberHasLoans)

	current, ok := provider.CurrentMember(identity.WithSessionToken(ctx, session.Token))
	assert.True(t, ok)
	assert.Equal(t, session.MemberID, current)
}

// fixedProvider reports the same current member for every context.
type fixedProvider struct {
	identity.Provider
	memberID core.MemberID
}

func (p fixedProvider) CurrentMember(context.Context) (core.MemberID, bool) {
	return p.memberID, true
}

func Test_Resolve(t *testing.T) {
	provider, _ := givenProvider(t)
	ctx := context.Background()

	session, err := provider.SignUp(ctx, "ada@library.test", "Ada", "correct horse", core.RoleUser)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		provider identity.Provider
		ctx      context.Context
		want     core.MemberID
		wantErr  bool
	}{
		{name: "signed in", provider: provider, ctx: identity.WithSessionToken(ctx, session.Token), want: session.MemberID},
		{name: "no token", provider: provider, ctx: ctx, wantErr: true},
		{name: "empty token", provider: provider, ctx: identity.WithSessionToken(ctx, ""), wantErr: true},
		{name: "forged token", provider: provider, ctx: identity.WithSessionToken(ctx, session.MemberID.String()), wantErr: true},
		{name: "surrounding blanks", provider: fixedProvider{memberID: " m1 "}, ctx: ctx, want: "m1"},
		{name: "blank member", provider: fixedProvider{memberID: "  "}, ctx: ctx, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			memberID, err := identity.Resolve(tc.ctx, tc.provider)

			if tc.wantErr {
				assert.ErrorIs(t, err, identity.ErrAuth)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, memberID)
		})
	}
}
