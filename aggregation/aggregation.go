// Package aggregation runs aggregation pipelines over a mapped collection.
package aggregation

import (
	"context"
	"time"

	"github.com/MorphiaOrg/morphia/aggregation/stages"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/MorphiaOrg/morphia/mapping"
	"github.com/MorphiaOrg/morphia/telemetry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var tracer = telemetry.Tracer("aggregation")

// Options tune an aggregation.
type Options struct {
	AllowDiskUse bool
	BatchSize    int32
	MaxTime      time.Duration
	Comment      string
	Hint         any
	// Let binds variables available to every stage as "$$name".
	Let bson.D
	// BypassDocumentValidation applies to $out and $merge.
	BypassDocumentValidation bool
}

func (o Options) driver() *options.AggregateOptions {
	out := options.Aggregate()
	if o.AllowDiskUse {
		out.SetAllowDiskUse(true)
	}
	if o.BatchSize > 0 {
		out.SetBatchSize(o.BatchSize)
	}
	if o.MaxTime > 0 {
		out.SetMaxTime(o.MaxTime)
	}
	if o.Comment != "" {
		out.SetComment(o.Comment)
	}
	if o.Hint != nil {
		out.SetHint(o.Hint)
	}
	if o.Let != nil {
		out.SetLet(o.Let)
	}
	if o.BypassDocumentValidation {
		out.SetBypassDocumentValidation(true)
	}
	return out
}

func mergeOptions(opts []Options) Options {
	var out Options
	for _, o := range opts {
		out.AllowDiskUse = out.AllowDiskUse || o.AllowDiskUse
		out.BypassDocumentValidation = out.BypassDocumentValidation || o.BypassDocumentValidation
		if o.BatchSize > 0 {
			out.BatchSize = o.BatchSize
		}
		if o.MaxTime > 0 {
			out.MaxTime = o.MaxTime
		}
		if o.Comment != "" {
			out.Comment = o.Comment
		}
		if o.Hint != nil {
			out.Hint = o.Hint
		}
		if o.Let != nil {
			out.Let = o.Let
		}
	}
	return out
}

// Aggregation is a pipeline over one collection. Field paths in stages are
// mapped against the source model when it is known.
type Aggregation struct {
	codec  *codec.Codec
	coll   *mongo.Collection
	model  *mapping.EntityModel
	stages []stages.Stage
}

// New returns an empty pipeline over coll. model may be nil.
func New(c *codec.Codec, coll *mongo.Collection, model *mapping.EntityModel) *Aggregation {
	return &Aggregation{codec: c, coll: coll, model: model}
}

// Pipeline appends stages.
func (a *Aggregation) Pipeline(s ...stages.Stage) *Aggregation {
	a.stages = append(a.stages, s...)
	return a
}

// Model returns the source model, if any.
func (a *Aggregation) Model() *mapping.EntityModel { return a.model }

// Collection returns the source collection.
func (a *Aggregation) Collection() *mongo.Collection { return a.coll }

// ToDocuments renders the pipeline.
func (a *Aggregation) ToDocuments() ([]bson.D, error) {
	enc := codec.NewFieldEncoder(a.codec, a.model, false)
	pipeline, err := stages.Render(enc, a.stages...)
	return pipeline, errors.Wrap(err, "rendering pipeline")
}

func (a *Aggregation) run(ctx context.Context, operation string, opts []Options) (*mongo.Cursor, error) {
	ctx, span := telemetry.Start(ctx, tracer, operation, a.coll.Name())
	var err error
	defer func() { telemetry.End(span, err) }()

	pipeline, err := a.ToDocuments()
	if err != nil {
		return nil, err
	}
	grip.Debug(message.Fields{
		"message":    "aggregate",
		"operation":  operation,
		"collection": a.coll.Name(),
		"pipeline":   pipeline,
	})
	cursor, err := a.coll.Aggregate(ctx, mongo.Pipeline(pipeline), mergeOptions(opts).driver())
	if err != nil {
		err = errors.Wrapf(err, "aggregating '%s'", a.coll.Name())
		return nil, err
	}
	return cursor, nil
}

// Execute runs the pipeline and decodes the results as R.
func Execute[R any](ctx context.Context, a *Aggregation, opts ...Options) (*codec.Cursor[R], error) {
	cursor, err := a.run(ctx, "aggregate", opts)
	if err != nil {
		return nil, err
	}
	return codec.NewCursor[R](cursor, a.codec), nil
}

// Out runs the pipeline, replacing the target collection with the results.
func (a *Aggregation) Out(ctx context.Context, out *stages.OutStage, opts ...Options) error {
	return a.terminal(ctx, out, opts)
}

// Merge runs the pipeline, merging the results into the target
// collection.
func (a *Aggregation) Merge(ctx context.Context, merge *stages.MergeStage, opts ...Options) error {
	return a.terminal(ctx, merge, opts)
}

func (a *Aggregation) terminal(ctx context.Context, stage stages.Stage, opts []Options) error {
	terminal := &Aggregation{codec: a.codec, coll: a.coll, model: a.model}
	terminal.stages = append(append([]stages.Stage{}, a.stages...), stage)
	cursor, err := terminal.run(ctx, stage.Name(), opts)
	if err != nil {
		return err
	}
	return errors.Wrap(cursor.Close(ctx), "closing aggregation cursor")
}
