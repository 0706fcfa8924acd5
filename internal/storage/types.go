package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// DateLayout is the key format of fingerprint records.
const DateLayout = "2006-01-02"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": append-only JSON Lines journal + zstd snapshot
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscriber is a chat that talked to the bot at least once.
type Subscriber struct {
	ChatID    int64     `json:"chat_id"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fingerprint is the last seen content hash of one day's schedule.
type Fingerprint struct {
	Date      string    `json:"date"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Stats struct {
	Subscribers  int `json:"subscribers"`
	Enabled      int `json:"enabled"`
	Fingerprints int `json:"fingerprints"`
}

// SubscriberStore is the subscriber half of Store.
type SubscriberStore interface {
	// Upsert inserts the subscriber or replaces its flag.
	Upsert(ctx context.Context, chatID int64, enabled bool) error
	// SetEnabled flips the flag, creating the subscriber if needed.
	SetEnabled(ctx context.Context, chatID int64, enabled bool) error
	// Enabled reports the flag; unknown chats are enabled.
	Enabled(ctx context.Context, chatID int64) (bool, error)
	// ListEnabled returns a sorted snapshot of enabled chat ids.
	ListEnabled(ctx context.Context) ([]int64, error)
}

// FingerprintStore is the fingerprint half of Store.
type FingerprintStore interface {
	Fingerprint(ctx context.Context, date string) (Fingerprint, bool, error)
	PutFingerprint(ctx context.Context, fp Fingerprint) error
	// PruneFingerprints deletes records with Date < before and returns how many.
	PruneFingerprints(ctx context.Context, before string) (int, error)
}

// Store is the persistence API used by the bot.
type Store interface {
	SubscriberStore
	FingerprintStore
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
