package mapping

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// TagName is the struct tag key holding mapping options.
	TagName = "morphia"

	bsonTagName = "bson"
)

// tagOptions holds the comma separated options of a morphia tag. Keys are
// lower cased; flags map to the empty string.
type tagOptions map[string]string

func parseTag(tag string) tagOptions {
	opts := tagOptions{}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		opts[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return opts
}

func (o tagOptions) has(key string) bool {
	_, ok := o[strings.ToLower(key)]
	return ok
}

func (o tagOptions) get(key string) string {
	return o[strings.ToLower(key)]
}

func (o tagOptions) list(key string) []string {
	value := o.get(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, "|") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (o tagOptions) int64(key string) (int64, error) {
	value := o.get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	return n, errors.Wrapf(err, "parsing option '%s'", key)
}

// bsonTag is the subset of the driver's struct tag syntax that affects
// mapping.
type bsonTag struct {
	name      string
	skip      bool
	omitEmpty bool
	inline    bool
}

func parseBSONTag(field reflect.StructField) bsonTag {
	raw, ok := field.Tag.Lookup(bsonTagName)
	if !ok {
		return bsonTag{}
	}
	if raw == "-" {
		return bsonTag{skip: true}
	}
	parts := strings.Split(raw, ",")
	tag := bsonTag{name: parts[0]}
	for _, part := range parts[1:] {
		switch part {
		case "omitempty":
			tag.omitEmpty = true
		case "inline":
			tag.inline = true
		}
	}
	return tag
}
