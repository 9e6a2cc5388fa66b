package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/model"
)

// ValidateProperties checks a property map against one type version.
// Unknown keys and kind mismatches are rejected; with requireAll every
// non-nullable property must be present. The reserved key "id" is always
// rejected, it is auto-managed.
func ValidateProperties(typ *model.EntityType, properties model.Metadata, requireAll bool) error {
	for key, value := range properties {
		if key == "id" {
			return fmt.Errorf("property 'id' is auto-managed and cannot be written")
		}
		def := typ.Property(key)
		if def == nil {
			return fmt.Errorf("type %s v%d does not define property %q", typ.Name, typ.Version, key)
		}
		if err := validateValue(def, value); err != nil {
			return err
		}
	}

	if requireAll {
		for _, def := range typ.Properties {
			if def.Nullable || def.Deprecated {
				continue
			}
			if v, ok := properties[def.Name]; !ok || v == nil {
				return fmt.Errorf("property %q of type %s is required", def.Name, typ.Name)
			}
		}
	}

	return nil
}

func validateValue(def *model.PropertyDef, value any) error {
	if value == nil {
		if !def.Nullable {
			return fmt.Errorf("property %q is not nullable", def.Name)
		}
		return nil
	}

	switch def.Kind {
	case model.KindText:
		if _, ok := value.(string); !ok {
			return kindError(def, value)
		}
	case model.KindNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
		default:
			return kindError(def, value)
		}
	case model.KindBoolean:
		if _, ok := value.(bool); !ok {
			return kindError(def, value)
		}
	case model.KindDate:
		s, ok := value.(string)
		if !ok {
			if _, isTime := value.(time.Time); isTime {
				return nil
			}
			return kindError(def, value)
		}
		if !parsableDate(s) {
			return fmt.Errorf("property %q: %q is not a date (want RFC 3339 or YYYY-MM-DD)", def.Name, s)
		}
	case model.KindReference:
		s, ok := value.(string)
		if !ok {
			return kindError(def, value)
		}
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Errorf("property %q: reference value %q is not an entity id", def.Name, s)
		}
	default:
		return fmt.Errorf("property %q: unknown kind %q", def.Name, def.Kind)
	}
	return nil
}

func kindError(def *model.PropertyDef, value any) error {
	return fmt.Errorf("property %q expects %s, got %T", def.Name, def.Kind, value)
}

func parsableDate(s string) bool {
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
