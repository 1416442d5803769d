package expressions

// ArrayElemAt returns the element at index; negative indexes count from
// the end.
func ArrayElemAt(array Expression, index int) Expression {
	return nary("$arrayElemAt", array, Value(index))
}

// ConcatArrays joins arrays.
func ConcatArrays(arrays ...Expression) Expression { return nary("$concatArrays", arrays...) }

// FilterExpression selects array elements matching a condition.
type FilterExpression struct {
	*namedExpression
}

// Filter keeps the elements of input for which cond is true. Elements are
// bound to "$$this" unless renamed with As.
func Filter(input, cond Expression) *FilterExpression {
	return &FilterExpression{named("$filter",
		argument{name: "input", value: input},
		argument{name: "cond", value: cond})}
}

// As names the element variable.
func (f *FilterExpression) As(name string) *FilterExpression {
	f.set("as", Value(name))
	return f
}

// Limit caps the number of elements returned.
func (f *FilterExpression) Limit(limit Expression) *FilterExpression {
	f.set("limit", limit)
	return f
}

// In is true when value is an element of array.
func In(value, array Expression) Expression { return nary("$in", value, array) }

// IsArray is true when value is an array.
func IsArray(value Expression) Expression { return nary("$isArray", value) }

// MapExpression applies an expression to every array element.
type MapExpression struct {
	*namedExpression
}

// Map evaluates in for every element of input.
func Map(input, in Expression) *MapExpression {
	return &MapExpression{named("$map",
		argument{name: "input", value: input},
		argument{name: "in", value: in})}
}

// As names the element variable.
func (m *MapExpression) As(name string) *MapExpression {
	m.set("as", Value(name))
	return m
}

// Reduce folds input into a single value starting from initial. in sees
// "$$value" and "$$this".
func Reduce(input, initial, in Expression) Expression {
	return named("$reduce",
		argument{name: "input", value: input},
		argument{name: "initialValue", value: initial},
		argument{name: "in", value: in})
}

// Size counts the elements of array.
func Size(array Expression) Expression { return unary("$size", array) }

// Slice returns the first n elements of array, or the last n when n is
// negative.
func Slice(array Expression, n int) Expression { return nary("$slice", array, Value(n)) }

// SliceFrom returns n elements of array starting at position.
func SliceFrom(array Expression, position, n int) Expression {
	return nary("$slice", array, Value(position), Value(n))
}

// ReverseArray reverses array.
func ReverseArray(array Expression) Expression { return unary("$reverseArray", array) }

// SetUnion returns the distinct elements of all arrays.
func SetUnion(arrays ...Expression) Expression { return nary("$setUnion", arrays...) }

// SetIntersection returns the elements present in every array.
func SetIntersection(arrays ...Expression) Expression {
	return nary("$setIntersection", arrays...)
}

// SetDifference returns the elements of first missing from second.
func SetDifference(first, second Expression) Expression {
	return nary("$setDifference", first, second)
}

// SetIsSubset is true when every element of first is in second.
func SetIsSubset(first, second Expression) Expression {
	return nary("$setIsSubset", first, second)
}
