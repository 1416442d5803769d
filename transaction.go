package morphia

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WithTransaction runs fn inside a transaction. Datastore operations given
// the context passed to fn take part in the transaction, which commits when
// fn returns nil and aborts otherwise. Transient failures retry fn.
func (ds *Datastore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...*options.TransactionOptions) (err error) {
	ctx, done := observe(ctx, "transaction", ds.database.Name())
	defer func() { done(err) }()

	session, err := ds.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	}, opts...)
	grip.DebugWhen(err != nil, errors.Wrap(err, "transaction aborted"))
	return errors.Wrap(err, "running transaction")
}
