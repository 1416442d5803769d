package filters

import (
	"github.com/MorphiaOrg/morphia/aggregation/expressions"
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// LogicalFilter joins other filters with $and, $or or $nor.
type LogicalFilter struct {
	operator string
	filters  []Filter
}

// And matches documents satisfying every filter.
func And(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{operator: "$and", filters: filters}
}

// Or matches documents satisfying at least one filter.
func Or(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{operator: "$or", filters: filters}
}

// Nor matches documents satisfying none of the filters.
func Nor(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{operator: "$nor", filters: filters}
}

// Add appends more filters to the group.
func (f *LogicalFilter) Add(filters ...Filter) *LogicalFilter {
	f.filters = append(f.filters, filters...)
	return f
}

func (f *LogicalFilter) Encode(enc codec.FieldEncoder) (bson.D, error) {
	if len(f.filters) == 0 {
		return nil, errors.Errorf("%s requires at least one filter", f.operator)
	}
	clauses := make(bson.A, 0, len(f.filters))
	for _, filter := range f.filters {
		doc, err := filter.Encode(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s clause", f.operator)
		}
		clauses = append(clauses, doc)
	}
	return bson.D{{Key: f.operator, Value: clauses}}, nil
}

// Expr matches documents for which the aggregation expression is true.
func Expr(expression expressions.Expression) Filter {
	return exprFilter{expression: expression}
}

type exprFilter struct {
	expression expressions.Expression
}

func (f exprFilter) Encode(enc codec.FieldEncoder) (bson.D, error) {
	value, err := f.expression.Encode(enc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding $expr")
	}
	return bson.D{{Key: "$expr", Value: value}}, nil
}

// TextFilter is a $text search.
type TextFilter struct {
	search             string
	language           string
	caseSensitive      *bool
	diacriticSensitive *bool
}

// Text searches the collection's text index.
func Text(search string) *TextFilter {
	return &TextFilter{search: search}
}

// Language sets the search language.
func (f *TextFilter) Language(language string) *TextFilter {
	f.language = language
	return f
}

// CaseSensitive toggles case sensitive matching.
func (f *TextFilter) CaseSensitive(enabled bool) *TextFilter {
	f.caseSensitive = &enabled
	return f
}

// DiacriticSensitive toggles diacritic sensitive matching.
func (f *TextFilter) DiacriticSensitive(enabled bool) *TextFilter {
	f.diacriticSensitive = &enabled
	return f
}

func (f *TextFilter) Encode(codec.FieldEncoder) (bson.D, error) {
	text := bson.D{{Key: "$search", Value: f.search}}
	if f.language != "" {
		text = append(text, bson.E{Key: "$language", Value: f.language})
	}
	if f.caseSensitive != nil {
		text = append(text, bson.E{Key: "$caseSensitive", Value: *f.caseSensitive})
	}
	if f.diacriticSensitive != nil {
		text = append(text, bson.E{Key: "$diacriticSensitive", Value: *f.diacriticSensitive})
	}
	return bson.D{{Key: "$text", Value: text}}, nil
}
