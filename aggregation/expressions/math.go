package expressions

// Abs returns the absolute value of a number.
func Abs(value Expression) Expression { return unary("$abs", value) }

// Add sums numbers, or adds milliseconds to a date.
func Add(values ...Expression) Expression { return nary("$add", values...) }

// Ceil rounds up to the next integer.
func Ceil(value Expression) Expression { return unary("$ceil", value) }

// Divide divides dividend by divisor.
func Divide(dividend, divisor Expression) Expression { return nary("$divide", dividend, divisor) }

// Exp raises e to exponent.
func Exp(exponent Expression) Expression { return unary("$exp", exponent) }

// Floor rounds down to the previous integer.
func Floor(value Expression) Expression { return unary("$floor", value) }

// Ln is the natural logarithm.
func Ln(value Expression) Expression { return unary("$ln", value) }

// Log10 is the base 10 logarithm.
func Log10(value Expression) Expression { return unary("$log10", value) }

// Mod is the remainder of dividend divided by divisor.
func Mod(dividend, divisor Expression) Expression { return nary("$mod", dividend, divisor) }

// Multiply multiplies numbers.
func Multiply(values ...Expression) Expression { return nary("$multiply", values...) }

// Pow raises base to exponent.
func Pow(base, exponent Expression) Expression { return nary("$pow", base, exponent) }

// Round rounds value to place decimal places.
func Round(value Expression, place int) Expression { return nary("$round", value, Value(place)) }

// Sqrt is the square root.
func Sqrt(value Expression) Expression { return unary("$sqrt", value) }

// Subtract subtracts numbers or dates.
func Subtract(minuend, subtrahend Expression) Expression {
	return nary("$subtract", minuend, subtrahend)
}

// Trunc truncates value to place decimal places.
func Trunc(value Expression, place int) Expression { return nary("$trunc", value, Value(place)) }
