// Package expressions builds aggregation expressions. Field references are
// mapped through the pipeline's field encoder when the path is known, and
// passed through otherwise, since stages reshape documents as they go.
package expressions

import (
	"strings"

	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Expression renders as an aggregation expression.
type Expression interface {
	Encode(enc codec.FieldEncoder) (any, error)
}

type fieldExpression struct {
	name string
}

// Field references a document field, such as Field("Author.Name"), which
// renders as "$author.name" when the path is mapped.
func Field(name string) Expression {
	return fieldExpression{name: strings.TrimPrefix(name, "$")}
}

func (f fieldExpression) Encode(enc codec.FieldEncoder) (any, error) {
	return "$" + FieldPath(enc, f.name), nil
}

// FieldPath maps name through enc, falling back to name when the path is
// not part of the mapped model.
func FieldPath(enc codec.FieldEncoder, name string) string {
	if enc == nil {
		return name
	}
	path, _, err := enc.Path(name)
	if err != nil || path == "" {
		return name
	}
	return path
}

type valueExpression struct {
	value any
}

// Value is a constant. Mapped structs are encoded as documents.
func Value(value any) Expression {
	return valueExpression{value: value}
}

func (v valueExpression) Encode(enc codec.FieldEncoder) (any, error) {
	if enc == nil || v.value == nil {
		return v.value, nil
	}
	out, err := enc.Value(nil, v.value)
	return out, errors.Wrap(err, "encoding value")
}

type literalExpression struct {
	value any
}

// Literal is a constant that the server must not parse, such as a string
// starting with "$".
func Literal(value any) Expression {
	return literalExpression{value: value}
}

func (l literalExpression) Encode(codec.FieldEncoder) (any, error) {
	return bson.D{{Key: "$literal", Value: l.value}}, nil
}

type variableExpression struct {
	name string
}

// Var references a variable bound by $let, $map, $filter or $reduce.
func Var(name string) Expression {
	return variableExpression{name: strings.TrimPrefix(name, "$$")}
}

func (v variableExpression) Encode(codec.FieldEncoder) (any, error) {
	return "$$" + v.name, nil
}

// System variables.
var (
	ROOT    = Var("ROOT")
	CURRENT = Var("CURRENT")
	REMOVE  = Var("REMOVE")
	DESCEND = Var("DESCEND")
	PRUNE   = Var("PRUNE")
	KEEP    = Var("KEEP")
)

// DocumentExpression builds a document whose values are expressions.
// Field names are new names and are not mapped.
type DocumentExpression struct {
	fields []argument
}

// Document starts an empty document expression.
func Document() *DocumentExpression {
	return &DocumentExpression{}
}

// Field adds name to the document.
func (d *DocumentExpression) Field(name string, value Expression) *DocumentExpression {
	d.fields = append(d.fields, argument{name: name, value: value})
	return d
}

func (d *DocumentExpression) Encode(enc codec.FieldEncoder) (any, error) {
	out := make(bson.D, 0, len(d.fields))
	for _, f := range d.fields {
		value, err := encodeOne(enc, f.value)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding document field '%s'", f.name)
		}
		out = append(out, bson.E{Key: f.name, Value: value})
	}
	return out, nil
}

type arrayExpression struct {
	items []Expression
}

// Array is an array of expressions.
func Array(items ...Expression) Expression {
	return arrayExpression{items: items}
}

func (a arrayExpression) Encode(enc codec.FieldEncoder) (any, error) {
	return encodeAll(enc, a.items)
}

// LetExpression binds variables for use in an expression.
type LetExpression struct {
	vars []argument
	in   Expression
}

// Let evaluates in with the variables added by Var.
func Let(in Expression) *LetExpression {
	return &LetExpression{in: in}
}

// Var binds name to value.
func (l *LetExpression) Var(name string, value Expression) *LetExpression {
	l.vars = append(l.vars, argument{name: name, value: value})
	return l
}

func (l *LetExpression) Encode(enc codec.FieldEncoder) (any, error) {
	vars := make(bson.D, 0, len(l.vars))
	for _, v := range l.vars {
		value, err := encodeOne(enc, v.value)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding $let variable '%s'", v.name)
		}
		vars = append(vars, bson.E{Key: v.name, Value: value})
	}
	in, err := encodeOne(enc, l.in)
	if err != nil {
		return nil, errors.Wrap(err, "encoding $let")
	}
	return bson.D{{Key: "$let", Value: bson.D{{Key: "vars", Value: vars}, {Key: "in", Value: in}}}}, nil
}

// operatorExpression is an operator taking a single argument or an
// argument array.
type operatorExpression struct {
	operator string
	args     []Expression
	single   bool
}

func unary(operator string, arg Expression) Expression {
	return &operatorExpression{operator: operator, args: []Expression{arg}, single: true}
}

func nary(operator string, args ...Expression) Expression {
	return &operatorExpression{operator: operator, args: args}
}

// flexible renders one argument bare and several as an array, as
// accumulators like $sum accept both.
func flexible(operator string, args []Expression) Expression {
	if len(args) == 1 {
		return unary(operator, args[0])
	}
	return nary(operator, args...)
}

func (o *operatorExpression) Encode(enc codec.FieldEncoder) (any, error) {
	if o.single {
		value, err := encodeOne(enc, o.args[0])
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", o.operator)
		}
		return bson.D{{Key: o.operator, Value: value}}, nil
	}
	values, err := encodeAll(enc, o.args)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", o.operator)
	}
	return bson.D{{Key: o.operator, Value: values}}, nil
}

type argument struct {
	name  string
	value Expression
}

// namedExpression is an operator taking a document of named arguments.
// Unset arguments are left out.
type namedExpression struct {
	operator string
	args     []argument
}

func named(operator string, args ...argument) *namedExpression {
	return &namedExpression{operator: operator, args: args}
}

func (n *namedExpression) set(name string, value Expression) {
	for i := range n.args {
		if n.args[i].name == name {
			n.args[i].value = value
			return
		}
	}
	n.args = append(n.args, argument{name: name, value: value})
}

func (n *namedExpression) Encode(enc codec.FieldEncoder) (any, error) {
	doc := make(bson.D, 0, len(n.args))
	for _, a := range n.args {
		if a.value == nil {
			continue
		}
		value, err := a.value.Encode(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s argument '%s'", n.operator, a.name)
		}
		doc = append(doc, bson.E{Key: a.name, Value: value})
	}
	return bson.D{{Key: n.operator, Value: doc}}, nil
}

func encodeOne(enc codec.FieldEncoder, e Expression) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.Encode(enc)
}

func encodeAll(enc codec.FieldEncoder, exprs []Expression) (bson.A, error) {
	out := make(bson.A, 0, len(exprs))
	for _, e := range exprs {
		value, err := encodeOne(enc, e)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}
