// Package members keeps the Member records: role, contact data and the set of borrowed books.
package members

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/internal/storeerr"
	"github.com/digilib/lendingledger/observability"
)

// CollectionMembers is the document collection holding the members.
const CollectionMembers = "members"

const (
	logMsgMemberRegistered = "member registered"
	logMsgMemberRemoved    = "member removed"
	logAttrMemberID        = "member_id"
	logAttrRole            = "role"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNilDocumentStore = errors.New("document store must not be nil")
	ErrNilClock         = errors.New("clock must not be nil")
)

// Directory is the member directory. Member ids come from the Identity Provider,
// so the directory never assigns ids itself.
type Directory struct {
	store    docstore.Store
	now      func() time.Time
	observer observability.Instrumentation
}

type Option func(*Directory) error

func WithClock(now func() time.Time) Option {
	return func(d *Directory) error {
		if now == nil {
			return ErrNilClock
		}

		d.now = now

		return nil
	}
}

func WithLogger(logger observability.Logger) Option {
	return func(d *Directory) error {
		d.observer.Logger = logger
		return nil
	}
}

func WithContextualLogger(logger observability.ContextualLogger) Option {
	return func(d *Directory) error {
		d.observer.ContextualLogger = logger
		return nil
	}
}

func New(store docstore.Store, options ...Option) (*Directory, error) {
	if store == nil {
		return nil, ErrNilDocumentStore
	}

	d := &Directory{store: store, now: time.Now}

	for _, option := range options {
		if err := option(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Register stores a new member with an empty borrowed set.
// Registering an id twice is a core.ErrValidation.
func (d *Directory) Register(ctx context.Context, registration core.MemberRegistration) (core.Member, error) {
	if err := registration.Validate(); err != nil {
		return core.Member{}, err
	}

	now := core.ToTimestamp(d.now())
	member := core.Member{
		Role:            registration.Role,
		DisplayName:     registration.DisplayName,
		Email:           registration.Email,
		BorrowedBookIDs: []core.BookID{},
		CreatedAt:       now,
		LastLogin:       now,
	}

	body, err := json.Marshal(member)
	if err != nil {
		return core.Member{}, fmt.Errorf("encoding member: %w", err)
	}

	doc, err := d.store.Create(ctx, CollectionMembers, registration.ID.String(), body)
	if err != nil {
		return core.Member{}, storeerr.Translate(err)
	}

	registered, err := MemberFromDocument(doc)
	if err != nil {
		return core.Member{}, err
	}

	d.observer.Info(ctx, logMsgMemberRegistered, logAttrMemberID, registered.ID.String(), logAttrRole, registered.Role.String())

	return registered, nil
}

// Get returns the member or core.ErrNotFound.
func (d *Directory) Get(ctx context.Context, memberID core.MemberID) (core.Member, error) {
	doc, err := d.store.Get(ctx, CollectionMembers, memberID.String())
	if err != nil {
		return core.Member{}, storeerr.Translate(err)
	}

	return MemberFromDocument(doc)
}

// List yields the members with the given role, or every member for an empty role.
// Like Catalog.List the sequence is one-shot.
func (d *Directory) List(ctx context.Context, role core.Role) iter.Seq2[core.Member, error] {
	filter := docstore.BuildFilter().MatchingAll()
	if role != "" {
		filter = docstore.BuildFilter().Where(docstore.FieldEquals(core.MemberFieldRole, role.String())).Finalize()
	}

	return docstore.OneShot(func(yield func(core.Member, error) bool) {
		for doc, err := range d.store.Query(ctx, CollectionMembers, filter) {
			if err != nil {
				yield(core.Member{}, storeerr.Translate(err))
				return
			}

			member, err := MemberFromDocument(doc)
			if !yield(member, err) || err != nil {
				return
			}
		}
	})
}

// TouchLastLogin stamps the member's last login with the current time.
func (d *Directory) TouchLastLogin(ctx context.Context, memberID core.MemberID) (core.Member, error) {
	mutation := docstore.BuildMutation().
		Set(core.MemberFieldLastLogin, core.ToTimestamp(d.now()).Format(time.RFC3339Nano)).
		Finalize()

	doc, err := d.store.Update(ctx, CollectionMembers, memberID.String(), mutation)
	if err != nil {
		return core.Member{}, storeerr.Translate(err)
	}

	return MemberFromDocument(doc)
}

// Remove deletes the member record. A member who still holds books is a core.ErrMemberHasLoans;
// a borrow that lands between the read and the delete surfaces as core.ErrConcurrentModification.
func (d *Directory) Remove(ctx context.Context, memberID core.MemberID) error {
	member, err := d.Get(ctx, memberID)
	if err != nil {
		return err
	}

	if len(member.BorrowedBookIDs) > 0 {
		return errors.Join(core.ErrMemberHasLoans, fmt.Errorf("member %s holds %d books", memberID, len(member.BorrowedBookIDs)))
	}

	if err := d.store.Delete(ctx, CollectionMembers, memberID.String(), member.Version); err != nil {
		return storeerr.Translate(err)
	}

	d.observer.Info(ctx, logMsgMemberRemoved, logAttrMemberID, memberID.String())

	return nil
}

// UpdateWrite wraps a member mutation for use in a docstore Commit.
func UpdateWrite(memberID core.MemberID, mutation docstore.Mutation) docstore.Write {
	return docstore.UpdateWrite(CollectionMembers, memberID.String(), mutation)
}

// MemberFromDocument decodes a stored member.
func MemberFromDocument(doc docstore.Document) (core.Member, error) {
	var member core.Member

	if err := json.Unmarshal(doc.Body, &member); err != nil {
		return core.Member{}, errors.Join(core.ErrUpstreamUnavailable, fmt.Errorf("decoding member %s: %w", doc.ID, err))
	}

	member.ID = core.MemberID(doc.ID)
	member.Version = doc.Version
	member.CreatedAt = core.ToTimestamp(member.CreatedAt)
	member.LastLogin = core.ToTimestamp(member.LastLogin)

	if member.BorrowedBookIDs == nil {
		member.BorrowedBookIDs = []core.BookID{}
	}

	return member, nil
}
