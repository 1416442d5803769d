package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mongodb/grip"
	"go.mongodb.org/mongo-driver/bson"
)

// IndexType is the kind of an index key.
type IndexType int

const (
	Ascending IndexType = iota
	Descending
	Text
	Hashed
	Geo2DSphere
	Geo2D
)

// Value returns the key value understood by the server.
func (t IndexType) Value() any {
	switch t {
	case Descending:
		return -1
	case Text:
		return "text"
	case Hashed:
		return "hashed"
	case Geo2DSphere:
		return "2dsphere"
	case Geo2D:
		return "2d"
	default:
		return 1
	}
}

// IndexField is one key of an index. Name may be a Go field path or a
// stored path.
type IndexField struct {
	Name   string
	Type   IndexType
	Weight int32
}

// Index describes an index on an entity's collection.
type Index struct {
	Fields             []IndexField
	Name               string
	Unique             bool
	Sparse             bool
	ExpireAfterSeconds *int32
	PartialFilter      bson.D
	DefaultLanguage    string
}

// Keys renders the index key document.
func (i Index) Keys() bson.D {
	keys := bson.D{}
	for _, f := range i.Fields {
		keys = append(keys, bson.E{Key: f.Name, Value: f.Type.Value()})
	}
	return keys
}

// Weights returns the text index weights, or nil when none are set.
func (i Index) Weights() bson.D {
	var weights bson.D
	for _, f := range i.Fields {
		if f.Type == Text && f.Weight > 0 {
			weights = append(weights, bson.E{Key: f.Name, Value: f.Weight})
		}
	}
	return weights
}

// DefaultName is the server's naming scheme for an unnamed index.
func (i Index) DefaultName() string {
	if i.Name != "" {
		return i.Name
	}
	parts := make([]string, 0, len(i.Fields))
	for _, f := range i.Fields {
		parts = append(parts, fmt.Sprintf("%s_%v", f.Name, f.Type.Value()))
	}
	return strings.Join(parts, "_")
}

// FieldIndex holds index options declared on a single field.
type FieldIndex struct {
	Unique bool
	Sparse bool
	Desc   bool
	Text   bool
	Weight int32
	Expire *int32
}

// Indexer is implemented by entities declaring compound indexes.
type Indexer interface {
	Indexes() []Index
}

// Validator is implemented by entities declaring a collection validator.
type Validator interface {
	Validation() bson.M
}

// IndexesFor returns the indexes declared on model. Text fields are combined
// into a single text index, which comes first, followed by the other field
// indexes in property order and then the compound indexes of an Indexer.
// Field names are resolved to stored paths.
func (m *Mapper) IndexesFor(model *EntityModel) ([]Index, error) {
	var (
		out  []Index
		text Index
	)
	for _, p := range model.Properties {
		if p.Indexed == nil {
			continue
		}
		if p.Indexed.Text {
			text.Fields = append(text.Fields, IndexField{Name: p.StoredName, Type: Text, Weight: p.Indexed.Weight})
			continue
		}
		field := IndexField{Name: p.StoredName}
		if p.Indexed.Desc {
			field.Type = Descending
		}
		out = append(out, Index{
			Fields:             []IndexField{field},
			Unique:             p.Indexed.Unique,
			Sparse:             p.Indexed.Sparse,
			ExpireAfterSeconds: p.Indexed.Expire,
		})
	}
	if len(text.Fields) > 0 {
		out = append([]Index{text}, out...)
	}

	indexer, ok := reflect.New(model.Type).Interface().(Indexer)
	if !ok {
		return out, nil
	}
	catcher := grip.NewBasicCatcher()
	for _, idx := range indexer.Indexes() {
		fields := make([]IndexField, 0, len(idx.Fields))
		for _, f := range idx.Fields {
			target, err := m.ResolvePath(model, f.Name, true)
			if err != nil {
				catcher.Wrapf(err, "index '%s'", idx.DefaultName())
				continue
			}
			f.Name = target.Path
			fields = append(fields, f)
		}
		idx.Fields = fields
		out = append(out, idx)
	}
	return out, catcher.Resolve()
}
