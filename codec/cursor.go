package codec

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// Cursor iterates over the results of a query or aggregation, decoding
// each document into a T.
type Cursor[T any] struct {
	cursor  *mongo.Cursor
	codec   *Codec
	current T
	err     error
}

// NewCursor wraps a driver cursor.
func NewCursor[T any](cursor *mongo.Cursor, c *Codec) *Cursor[T] {
	return &Cursor[T]{cursor: cursor, codec: c}
}

// Next advances to the next document. It returns false when the cursor is
// exhausted or decoding failed; check Err afterwards.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil || !c.cursor.Next(ctx) {
		return false
	}
	var out T
	if err := c.codec.Decode(ctx, c.cursor.Current, &out); err != nil {
		c.err = errors.Wrap(err, "decoding cursor document")
		return false
	}
	c.current = out
	return true
}

// Current returns the document decoded by the last call to Next.
func (c *Cursor[T]) Current() T { return c.current }

// Err returns the first error seen by the cursor.
func (c *Cursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	return errors.WithStack(c.cursor.Err())
}

// Close releases the server cursor.
func (c *Cursor[T]) Close(ctx context.Context) error {
	return errors.WithStack(c.cursor.Close(ctx))
}

// ToList drains and closes the cursor. A decoding or iteration error takes
// precedence over a failure to close.
func (c *Cursor[T]) ToList(ctx context.Context) (out []T, err error) {
	defer func() {
		if closeErr := c.Close(ctx); closeErr != nil && err == nil {
			out, err = nil, errors.Wrap(closeErr, "closing cursor")
		}
	}()

	for c.Next(ctx) {
		out = append(out, c.Current())
	}
	if err = c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
