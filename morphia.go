// Package morphia maps Go structs to MongoDB documents and runs typed
// writes, queries and aggregations over them.
//
// A Datastore wraps a driver client and a database. Entities are structs
// carrying the mapping.Entity marker; the mapping package describes the
// struct tags understood on them. Connection handling, the wire protocol
// and query execution stay with the driver.
package morphia

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when an operation needs an existing document
	// and none matched.
	ErrNotFound = errors.New("entity not found")

	// ErrConcurrentModification is returned when a versioned entity was
	// changed by someone else since it was loaded.
	ErrConcurrentModification = errors.New("entity was modified concurrently")
)
