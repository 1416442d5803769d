package expressions

// ConvertExpression converts a value to another BSON type.
type ConvertExpression struct {
	*namedExpression
}

// Convert converts input to the type alias to, such as "int" or "date".
func Convert(input Expression, to string) *ConvertExpression {
	return &ConvertExpression{named("$convert",
		argument{name: "input", value: input},
		argument{name: "to", value: Value(to)})}
}

// OnError is returned when the conversion fails.
func (c *ConvertExpression) OnError(value Expression) *ConvertExpression {
	c.set("onError", value)
	return c
}

// OnNull is returned when input is null or missing.
func (c *ConvertExpression) OnNull(value Expression) *ConvertExpression {
	c.set("onNull", value)
	return c
}

func ToString(value Expression) Expression   { return unary("$toString", value) }
func ToInt(value Expression) Expression      { return unary("$toInt", value) }
func ToLong(value Expression) Expression     { return unary("$toLong", value) }
func ToDouble(value Expression) Expression   { return unary("$toDouble", value) }
func ToDate(value Expression) Expression     { return unary("$toDate", value) }
func ToObjectID(value Expression) Expression { return unary("$toObjectId", value) }

// Type returns the BSON type alias of value.
func Type(value Expression) Expression { return unary("$type", value) }
