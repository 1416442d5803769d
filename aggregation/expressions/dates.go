package expressions

import (
	"github.com/MorphiaOrg/morphia/codec"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// DateExpression extracts a component from a date.
type DateExpression struct {
	operator string
	date     Expression
	timezone Expression
}

func dateComponent(operator string, date Expression) *DateExpression {
	return &DateExpression{operator: operator, date: date}
}

// Year of date.
func Year(date Expression) *DateExpression { return dateComponent("$year", date) }

// Month of date, 1 through 12.
func Month(date Expression) *DateExpression { return dateComponent("$month", date) }

// DayOfMonth of date, 1 through 31.
func DayOfMonth(date Expression) *DateExpression { return dateComponent("$dayOfMonth", date) }

// DayOfWeek of date, 1 (Sunday) through 7.
func DayOfWeek(date Expression) *DateExpression { return dateComponent("$dayOfWeek", date) }

// Hour of date, 0 through 23.
func Hour(date Expression) *DateExpression { return dateComponent("$hour", date) }

// Timezone evaluates the component in timezone, an Olson name or offset.
func (d *DateExpression) Timezone(timezone Expression) *DateExpression {
	d.timezone = timezone
	return d
}

func (d *DateExpression) Encode(enc codec.FieldEncoder) (any, error) {
	date, err := encodeOne(enc, d.date)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", d.operator)
	}
	if d.timezone == nil {
		return bson.D{{Key: d.operator, Value: date}}, nil
	}
	tz, err := d.timezone.Encode(enc)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s timezone", d.operator)
	}
	return bson.D{{Key: d.operator, Value: bson.D{{Key: "date", Value: date}, {Key: "timezone", Value: tz}}}}, nil
}

// DateToStringExpression formats a date.
type DateToStringExpression struct {
	*namedExpression
}

// DateToString formats date with a strftime style format.
func DateToString(format string, date Expression) *DateToStringExpression {
	return &DateToStringExpression{named("$dateToString",
		argument{name: "date", value: date},
		argument{name: "format", value: Value(format)})}
}

// Timezone formats in timezone.
func (d *DateToStringExpression) Timezone(timezone Expression) *DateToStringExpression {
	d.set("timezone", timezone)
	return d
}

// OnNull is returned when the date is null or missing.
func (d *DateToStringExpression) OnNull(value Expression) *DateToStringExpression {
	d.set("onNull", value)
	return d
}

// DateFromStringExpression parses a date.
type DateFromStringExpression struct {
	*namedExpression
}

// DateFromString parses dateString.
func DateFromString(dateString Expression) *DateFromStringExpression {
	return &DateFromStringExpression{named("$dateFromString",
		argument{name: "dateString", value: dateString})}
}

// Format sets the expected layout.
func (d *DateFromStringExpression) Format(format string) *DateFromStringExpression {
	d.set("format", Value(format))
	return d
}

// Timezone parses in timezone.
func (d *DateFromStringExpression) Timezone(timezone Expression) *DateFromStringExpression {
	d.set("timezone", timezone)
	return d
}

// OnError is returned when the string cannot be parsed.
func (d *DateFromStringExpression) OnError(value Expression) *DateFromStringExpression {
	d.set("onError", value)
	return d
}

// OnNull is returned when the string is null or missing.
func (d *DateFromStringExpression) OnNull(value Expression) *DateFromStringExpression {
	d.set("onNull", value)
	return d
}
