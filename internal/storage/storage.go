// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"digest_bot/internal/model"
)

var (
	// ErrNotFound is returned when a referenced account, group, source or
	// membership does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("already exists")
)

// Storage is the interface for all persistence operations.
//
// Uniqueness rules (account ID, source handle, group name per account,
// item identity triple) are enforced by the database, so concurrent callers
// cannot both insert the same row.
type Storage interface {
	// UpsertAccount creates the account on first sight. An existing
	// account only has its display name replaced when a non-empty one is given.
	UpsertAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)

	// EnsureSource returns the source with the given handle, creating it
	// (title = handle) if it has never been seen.
	EnsureSource(ctx context.Context, handle string) (*model.Source, error)
	GetSource(ctx context.Context, handle string) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	// ListAttachedSources returns sources that belong to at least one group.
	ListAttachedSources(ctx context.Context) ([]model.Source, error)

	// CreateGroup fails with ErrConflict if the account already has a group
	// with the same name.
	CreateGroup(ctx context.Context, group *model.DigestGroup) error
	GetGroup(ctx context.Context, accountID int64, name string) (*model.DigestGroup, error)
	ListGroups(ctx context.Context, accountID int64) ([]model.DigestGroup, error)
	ListAllGroups(ctx context.Context) ([]model.DigestGroup, error)
	DeleteGroup(ctx context.Context, accountID int64, name string) error
	// AttachSource adds the source to the group, creating the source if
	// needed. The returned bool is false when it was already attached.
	AttachSource(ctx context.Context, groupID int64, handle string) (*model.Source, bool, error)
	// DetachSource fails with ErrNotFound if the source is not in the group.
	DetachSource(ctx context.Context, groupID int64, handle string) error
	// ListGroupSources returns the group's sources in attachment order.
	ListGroupSources(ctx context.Context, groupID int64) ([]model.Source, error)

	EnsureTopic(ctx context.Context, name string) (*model.Topic, error)
	ListTopics(ctx context.Context) ([]model.Topic, error)

	// AddItem stores the item with its topics unless an item with the same
	// (source, text, timestamp) exists. It reports whether a row was inserted.
	AddItem(ctx context.Context, item *model.Item) (bool, error)
	ItemExists(ctx context.Context, sourceID int64, text string, publishedAt time.Time) (bool, error)
	// ListItems returns a source's items published at or after since,
	// oldest first. A zero since returns every stored item.
	ListItems(ctx context.Context, sourceID int64, since time.Time) ([]model.Item, error)

	Close() error
}
