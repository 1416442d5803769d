package expressions

// Concat joins strings.
func Concat(values ...Expression) Expression { return nary("$concat", values...) }

// IndexOfBytes finds the byte index of substring in str. The optional
// bounds are the start and end of the search.
func IndexOfBytes(str, substring Expression, bounds ...int) Expression {
	args := []Expression{str, substring}
	for _, b := range bounds {
		args = append(args, Value(b))
	}
	return nary("$indexOfBytes", args...)
}

// Split divides str on delimiter.
func Split(str, delimiter Expression) Expression { return nary("$split", str, delimiter) }

// StrLenBytes counts the UTF-8 bytes in str.
func StrLenBytes(str Expression) Expression { return unary("$strLenBytes", str) }

// Substr returns length bytes of str starting at start.
func Substr(str Expression, start, length int) Expression {
	return nary("$substr", str, Value(start), Value(length))
}

// ToLower lower cases str.
func ToLower(str Expression) Expression { return unary("$toLower", str) }

// ToUpper upper cases str.
func ToUpper(str Expression) Expression { return unary("$toUpper", str) }

// TrimExpression removes characters from both ends of a string.
type TrimExpression struct {
	*namedExpression
}

// Trim removes whitespace from both ends of input.
func Trim(input Expression) *TrimExpression {
	return &TrimExpression{named("$trim", argument{name: "input", value: input})}
}

// Chars trims the given characters instead of whitespace.
func (t *TrimExpression) Chars(chars Expression) *TrimExpression {
	t.set("chars", chars)
	return t
}

// RegexMatchExpression tests a string against a regular expression.
type RegexMatchExpression struct {
	*namedExpression
}

// RegexMatch is true when input matches regex.
func RegexMatch(input Expression, regex string) *RegexMatchExpression {
	return &RegexMatchExpression{named("$regexMatch",
		argument{name: "input", value: input},
		argument{name: "regex", value: Value(regex)})}
}

// Options sets the regular expression flags.
func (r *RegexMatchExpression) Options(options string) *RegexMatchExpression {
	r.set("options", Value(options))
	return r
}
