package validation

import (
	"fmt"
	"strings"

	"github.com/ha1tch/otkg/pkg/mapping"
)

// ErrInvalidSpec is returned by CheckSpec for a section that cannot drive an extractor
var ErrInvalidSpec = fmt.Errorf("%w: invalid adapter section", mapping.ErrConfig)

// Validator decides whether a raw source record is accepted
type Validator interface {
	Validate(record map[string]interface{}) (bool, []string)
}

// RequiredFieldsValidator accepts records carrying every required source key
type RequiredFieldsValidator struct {
	required []string
}

// NewRequiredFieldsValidator creates a validator for the given source keys
func NewRequiredFieldsValidator(required []string) *RequiredFieldsValidator {
	return &RequiredFieldsValidator{required: required}
}

// Validate reports whether every required key is present. Presence is all
// that counts: a key holding null or "" is still present.
func (v *RequiredFieldsValidator) Validate(record map[string]interface{}) (bool, []string) {
	var missing []string
	for _, field := range v.required {
		if _, exists := record[field]; !exists {
			missing = append(missing, field)
		}
	}
	return len(missing) == 0, missing
}

// ForSpec returns the record validator for an adapter section
func ForSpec(spec *mapping.Spec) Validator {
	if len(spec.Required) == 0 {
		return NewNoOpValidator()
	}
	return NewRequiredFieldsValidator(spec.Required)
}

// CheckSpec verifies that a section has what its extractor needs. Node kinds
// need an identifier and a label; the evidence kind needs folder keys.
func CheckSpec(spec *mapping.Spec) error {
	var problems []string

	if spec.Kind == mapping.KindEvidence {
		if len(spec.FolderKeys) == 0 {
			problems = append(problems, "folder_keys is empty")
		}
		for _, fk := range spec.FolderKeys {
			if len(fk.Keys) == 0 {
				problems = append(problems, fmt.Sprintf("source %s declares no keys", fk.Source))
			}
		}
	} else {
		if _, ok := spec.Field(":ID"); !ok {
			problems = append(problems, "fields has no :ID")
		}
		if label, ok := spec.Field(mapping.LabelField); !ok || label.Path == "" {
			problems = append(problems, "fields has no :LABEL constant")
		}
		for _, f := range spec.Fields {
			if f.Path == "" {
				problems = append(problems, fmt.Sprintf("field %s has an empty source", f.Name))
			}
		}
	}

	for _, r := range spec.Required {
		if strings.TrimSpace(r) == "" {
			problems = append(problems, "required_fields has an empty entry")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidSpec, spec.Kind, strings.Join(problems, "; "))
	}
	return nil
}

// NoOpValidator accepts every record
type NoOpValidator struct{}

// NewNoOpValidator creates a no-op validator
func NewNoOpValidator() *NoOpValidator {
	return &NoOpValidator{}
}

// Validate always returns true
func (n *NoOpValidator) Validate(record map[string]interface{}) (bool, []string) {
	return true, nil
}
