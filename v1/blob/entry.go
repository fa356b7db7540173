package blob

import "time"

// Entry is a stored record. Entries are immutable once created; replacing a
// key always creates a new Entry.
type Entry struct {
	// Value is the stored byte sequence. It may be empty but never nil.
	Value []byte
	// CreatedAt is the insertion time per the store's clock.
	CreatedAt time.Time
	// ExpiresAt is the absolute expiration time. The zero value means the
	// entry never expires.
	ExpiresAt time.Time
	// TypeName is an opaque tag for typed layers built on top of the byte
	// contract. The store never interprets it.
	TypeName string
}

// Live reports whether the entry has not expired at the given instant. An
// entry at exactly its expiration time is still live; it turns stale one
// tick later. The same comparison is used on every read and vacuum path.
func (e Entry) Live(now time.Time) bool {
	return e.ExpiresAt.IsZero() || !now.After(e.ExpiresAt)
}
