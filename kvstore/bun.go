package kvstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-passwordless"
	"github.com/uptrace/bun"
)

// Entry is a single key value row. Value is opaque to the store.
type Entry struct {
	bun.BaseModel `bun:"table:kv_entries,alias:kv"`

	Key       string     `bun:"key,pk"`
	Value     []byte     `bun:"value,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
}

// BunStore is a KeyValueStore over a bun database. Expiry is lazy: expired
// rows are detected and removed on read rather than by a background sweeper.
//
// The store enforces a minimum TTL on writes, mirroring hosted KV backends
// that refuse short expirations. Callers that need the real write window use
// the intent layer's effective TTL, which applies the same floor.
type BunStore struct {
	db     *bun.DB
	minTTL time.Duration
	clock  func() time.Time
}

var _ passwordless.KeyValueStore = (*BunStore)(nil)

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{
		db:     db,
		minTTL: passwordless.DefaultStoreMinTTL,
		clock:  time.Now,
	}
}

// WithMinTTL overrides the write floor. Zero disables it.
func (s *BunStore) WithMinTTL(minTTL time.Duration) *BunStore {
	s.minTTL = minTTL
	return s
}

// WithClock overrides the time source, mainly for expiry tests.
func (s *BunStore) WithClock(clock func() time.Time) *BunStore {
	s.clock = clock
	return s
}

// Init creates the backing table if it does not exist.
func (s *BunStore) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*Entry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "create kv_entries table")
	}
	return nil
}

// Get returns the value stored under key, or passwordless.ErrKeyNotFound when
// the key is missing or its entry has expired. Expired entries are deleted on
// the way out.
func (s *BunStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry := &Entry{}
	err := s.db.NewSelect().
		Model(entry).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, passwordless.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "select kv entry")
	}

	if entry.ExpiresAt != nil && !s.clock().Before(*entry.ExpiresAt) {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, passwordless.ErrKeyNotFound
	}

	return entry.Value, nil
}

// Put stores value under key. A positive ttl, raised to the store minimum,
// sets the expiry; a zero ttl stores the entry without one. Existing entries
// are overwritten.
func (s *BunStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &Entry{
		Key:   key,
		Value: value,
	}

	if ttl > 0 {
		if ttl < s.minTTL {
			ttl = s.minTTL
		}
		expiresAt := s.clock().Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	if _, err := s.db.NewInsert().
		Model(entry).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "upsert kv entry")
	}

	return nil
}

// Delete removes the entry under key. Deleting a missing key is not an error.
func (s *BunStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.NewDelete().
		Model((*Entry)(nil)).
		Where("key = ?", key).
		Exec(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "delete kv entry")
	}
	return nil
}
