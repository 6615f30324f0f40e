// Package model defines the domain types used across the application.
package model

import "time"

// Account is a bot user, keyed by the messaging platform's user ID.
type Account struct {
	ID          int64
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source is a public channel harvested for items.
// Handle is unique, case-sensitive and stored without a leading "@".
type Source struct {
	ID        int64
	Handle    string
	Title     string
	CreatedAt time.Time
}

// Topic is a label that can be attached to items.
type Topic struct {
	ID   int64
	Name string
}

// DigestGroup is a named collection of sources owned by one account.
type DigestGroup struct {
	ID        int64
	AccountID int64
	Name      string
	CreatedAt time.Time
}

// Item is a single harvested post.
// (SourceID, Text, PublishedAt) identifies an item for deduplication.
type Item struct {
	ID          int64
	SourceID    int64
	Text        string
	PublishedAt time.Time
	Topics      []Topic
	CreatedAt   time.Time
}
