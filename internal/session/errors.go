package session

import "errors"

// ErrNotFound is returned when a session record is absent from the KV
// store, either because it was never written or its TTL expired.
var ErrNotFound = errors.New("session: not found")
