package mapping

import (
	"reflect"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

var (
	validConcerns          = []string{"", ConcernMajority, ConcernAcknowledged, ConcernUnacknowledged, ConcernJournaled}
	validValidationLevels  = []string{"", "off", "strict", "moderate"}
	validValidationActions = []string{"", "error", "warn"}
)

// validateModel checks the rules that only need the model itself. Every
// violation is reported.
func validateModel(model *EntityModel) error {
	catcher := grip.NewBasicCatcher()

	if model.IsEntity {
		catcher.NewWhen(model.ID == nil, "entity has no id property; tag a field with morphia:\"id\" or bson:\"_id\"")
		catcher.NewWhen(model.Collection == "", "entity has no collection name")
	}
	if model.Version != nil {
		catcher.NewWhen(!model.IsEntity, "version properties are only allowed on entities")
		catcher.ErrorfWhen(!isIntegerKind(model.Version.Type.Kind()), "version property '%s' must be an int, int32 or int64", model.Version.Name)
	}

	catcher.ErrorfWhen(!utility.StringSliceContains(validConcerns, model.Concern), "invalid write concern '%s'", model.Concern)
	catcher.ErrorfWhen(!utility.StringSliceContains(validValidationLevels, model.ValidationLevel), "invalid validation level '%s'", model.ValidationLevel)
	catcher.ErrorfWhen(!utility.StringSliceContains(validValidationActions, model.ValidationAction), "invalid validation action '%s'", model.ValidationAction)
	catcher.NewWhen(model.CappedSize < 0, "capped size must not be negative")
	catcher.NewWhen(model.CappedCount < 0, "capped count must not be negative")
	catcher.NewWhen(model.CappedCount > 0 && model.CappedSize == 0, "capped count requires a capped size")

	for _, p := range model.Properties {
		catcher.ErrorfWhen(p.IsID && p.IsReference, "id property '%s' cannot be a reference", p.Name)
		catcher.ErrorfWhen(p.IsVersion && p.IsReference, "version property '%s' cannot be a reference", p.Name)
		catcher.ErrorfWhen(p.IsID && p.NotSaved, "id property '%s' cannot be notSaved", p.Name)
		for _, alias := range p.AlsoLoad {
			if other, ok := model.byStored[alias]; ok {
				catcher.Errorf("alsoLoad name '%s' of '%s' collides with stored name of '%s'", alias, p.Name, other.Name)
			}
			if other := model.byAlias[alias]; other != nil && other != p {
				catcher.Errorf("alsoLoad name '%s' is declared by both '%s' and '%s'", alias, other.Name, p.Name)
			}
		}
		if p.Indexed != nil && p.Indexed.Text {
			catcher.ErrorfWhen(BaseType(p.Type).Kind() != reflect.String, "text index on '%s' requires a string field", p.Name)
		}
	}

	return catcher.Resolve()
}

// validateReferences checks that every reference targets a mapped entity
// with an id. It runs after the model is registered so cycles resolve.
func (m *Mapper) validateReferences(model *EntityModel) error {
	catcher := grip.NewBasicCatcher()
	for _, p := range model.Properties {
		if !p.IsReference {
			continue
		}
		if !IsMappable(p.ReferenceTarget) {
			catcher.Errorf("reference '%s' must target a struct, not '%s'", p.Name, p.ReferenceTarget)
			continue
		}
		target, err := m.Model(p.ReferenceTarget)
		if err != nil {
			catcher.Wrapf(err, "reference '%s'", p.Name)
			continue
		}
		if !target.IsEntity || target.ID == nil {
			catcher.Add(errors.Errorf("reference '%s' targets '%s', which is not an entity with an id", p.Name, target.Name))
		}
	}
	return catcher.Resolve()
}
