package mapping

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// NamingStrategy converts Go identifiers into stored collection and
// property names.
type NamingStrategy string

const (
	Identity  NamingStrategy = "identity"
	LowerCase NamingStrategy = "lowerCase"
	CamelCase NamingStrategy = "camelCase"
	SnakeCase NamingStrategy = "snakeCase"
	KebabCase NamingStrategy = "kebabCase"
)

// Validate returns an error if the strategy is not one of the known values.
func (n NamingStrategy) Validate() error {
	switch n {
	case Identity, LowerCase, CamelCase, SnakeCase, KebabCase:
		return nil
	default:
		return errors.Errorf("invalid naming strategy '%s'", n)
	}
}

// Apply converts name using the strategy. An empty strategy behaves like
// Identity.
func (n NamingStrategy) Apply(name string) string {
	switch n {
	case LowerCase:
		return strings.ToLower(name)
	case CamelCase:
		return toCamelCase(name)
	case SnakeCase:
		return strings.Join(splitWords(name), "_")
	case KebabCase:
		return strings.Join(splitWords(name), "-")
	default:
		return name
	}
}

// toCamelCase lowers the leading capital run of name, keeping the last
// capital of an acronym when it starts the next word ("URLPath" becomes
// "urlPath").
func toCamelCase(name string) string {
	runes := []rune(name)
	upper := 0
	for upper < len(runes) && unicode.IsUpper(runes[upper]) {
		upper++
	}
	if upper == 0 {
		return name
	}
	if upper > 1 && upper < len(runes) && unicode.IsLetter(runes[upper]) {
		upper--
	}
	for i := 0; i < upper; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

func splitWords(name string) []string {
	runes := []rune(name)
	var (
		words   []string
		current []rune
	)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				words = append(words, string(current))
				current = nil
			}
		}
		if r == '_' || r == '-' {
			if len(current) > 0 {
				words = append(words, string(current))
			}
			current = nil
			continue
		}
		current = append(current, unicode.ToLower(r))
	}
	if len(current) > 0 {
		words = append(words, string(current))
	}
	return words
}

// DiscriminatorFunction computes the discriminator value stored for a type.
type DiscriminatorFunction string

const (
	// SimpleName uses the bare type name.
	SimpleName DiscriminatorFunction = "simpleName"
	// ClassName qualifies the type name with its package path.
	ClassName DiscriminatorFunction = "className"
)

// Validate returns an error if the function is not one of the known values.
func (d DiscriminatorFunction) Validate() error {
	switch d {
	case SimpleName, ClassName:
		return nil
	default:
		return errors.Errorf("invalid discriminator function '%s'", d)
	}
}

// Apply returns the discriminator value for t.
func (d DiscriminatorFunction) Apply(t reflect.Type) string {
	if d == ClassName && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.Name()
}
