package expressions

import (
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Cmp returns -1, 0 or 1 comparing left to right.
func Cmp(left, right Expression) Expression { return nary("$cmp", left, right) }

// Eq is true when both values are equal.
func Eq(left, right Expression) Expression { return nary("$eq", left, right) }

// Gt is true when left is greater than right.
func Gt(left, right Expression) Expression { return nary("$gt", left, right) }

// Gte is true when left is greater than or equal to right.
func Gte(left, right Expression) Expression { return nary("$gte", left, right) }

// Lt is true when left is less than right.
func Lt(left, right Expression) Expression { return nary("$lt", left, right) }

// Lte is true when left is less than or equal to right.
func Lte(left, right Expression) Expression { return nary("$lte", left, right) }

// Ne is true when the values differ.
func Ne(left, right Expression) Expression { return nary("$ne", left, right) }

// And is true when every expression is true.
func And(values ...Expression) Expression { return nary("$and", values...) }

// Or is true when any expression is true.
func Or(values ...Expression) Expression { return nary("$or", values...) }

// Not negates value.
func Not(value Expression) Expression { return nary("$not", value) }

// Condition evaluates then or otherwise depending on test.
func Condition(test, then, otherwise Expression) Expression {
	return named("$cond",
		argument{name: "if", value: test},
		argument{name: "then", value: then},
		argument{name: "else", value: otherwise})
}

// IfNull evaluates to value unless it is null or missing, in which case
// replacement is used.
func IfNull(value, replacement Expression) Expression {
	return nary("$ifNull", value, replacement)
}

// SwitchExpression evaluates the first branch whose case is true.
type SwitchExpression struct {
	branches []argument
	fallback Expression
}

// Switch starts an empty $switch; add branches with Case.
func Switch() *SwitchExpression {
	return &SwitchExpression{}
}

// Case adds a branch evaluating then when test is true.
func (s *SwitchExpression) Case(test, then Expression) *SwitchExpression {
	s.branches = append(s.branches, argument{value: test}, argument{value: then})
	return s
}

// Default sets the value used when no branch matches.
func (s *SwitchExpression) Default(value Expression) *SwitchExpression {
	s.fallback = value
	return s
}

func (s *SwitchExpression) Encode(enc codec.FieldEncoder) (any, error) {
	if len(s.branches) == 0 {
		return nil, errors.New("$switch requires at least one branch")
	}
	branches := make(bson.A, 0, len(s.branches)/2)
	for i := 0; i < len(s.branches); i += 2 {
		test, err := encodeOne(enc, s.branches[i].value)
		if err != nil {
			return nil, errors.Wrap(err, "encoding $switch case")
		}
		then, err := encodeOne(enc, s.branches[i+1].value)
		if err != nil {
			return nil, errors.Wrap(err, "encoding $switch branch")
		}
		branches = append(branches, bson.D{{Key: "case", Value: test}, {Key: "then", Value: then}})
	}
	doc := bson.D{{Key: "branches", Value: branches}}
	if s.fallback != nil {
		value, err := s.fallback.Encode(enc)
		if err != nil {
			return nil, errors.Wrap(err, "encoding $switch default")
		}
		doc = append(doc, bson.E{Key: "default", Value: value})
	}
	return bson.D{{Key: "$switch", Value: doc}}, nil
}
