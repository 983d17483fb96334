// Package blobstore provides per-key JSON blob persistence for the session
// layer. Each persisted item (tokens, identity, profile, activity stamps,
// staged auth entries) lives under its own key so it can be invalidated
// independently.
package blobstore

// Store is the interface for local key-value blob persistence.
type Store interface {
	// Get retrieves the blob stored under key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Set stores blob under key, replacing any existing value.
	Set(key string, blob []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}
