package expressions

import (
	"github.com/MorphiaOrg/morphia/codec"
	"go.mongodb.org/mongo-driver/bson"
)

// The accumulators below take one argument in $group and several when used
// as expressions in other stages.

func Sum(values ...Expression) Expression        { return flexible("$sum", values) }
func Avg(values ...Expression) Expression        { return flexible("$avg", values) }
func Min(values ...Expression) Expression        { return flexible("$min", values) }
func Max(values ...Expression) Expression        { return flexible("$max", values) }
func StdDevPop(values ...Expression) Expression  { return flexible("$stdDevPop", values) }
func StdDevSamp(values ...Expression) Expression { return flexible("$stdDevSamp", values) }

// First is the first value of the group.
func First(value Expression) Expression { return unary("$first", value) }

// Last is the last value of the group.
func Last(value Expression) Expression { return unary("$last", value) }

// Push collects the values of the group into an array.
func Push(value Expression) Expression { return unary("$push", value) }

// AddToSet collects the distinct values of the group.
func AddToSet(value Expression) Expression { return unary("$addToSet", value) }

type countAccumulator struct{}

// Count counts the documents of the group.
func Count() Expression { return countAccumulator{} }

func (countAccumulator) Encode(codec.FieldEncoder) (any, error) {
	return bson.D{{Key: "$count", Value: bson.D{}}}, nil
}
