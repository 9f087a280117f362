package finly

import "context"

// KeyValueStore is the persistent store the client depends on for tokens
// and cache entries: durable across process restarts, per-key atomic, no
// transactional guarantees. The application supplies the implementation
// (keychain, file, SQLite); the client never assumes a storage format.
type KeyValueStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value, overwriting any previous one.
	Set(ctx context.Context, key string, value string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes a set of keys.
	DeleteMany(ctx context.Context, keys []string) error
}
