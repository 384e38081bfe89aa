package store

import (
	"github.com/digitallinguistics/database/schema"
)

// Validator checks a document against a registered schema.
// *schema.Registry implements it.
type Validator interface {
	Validate(schemaID string, doc any) ([]schema.Violation, error)
}

// ValidationResult is the outcome of the validation gate.
type ValidationResult struct {
	Valid  bool
	Errors []*ValidationError
}

func invalid(errs ...*ValidationError) ValidationResult {
	return ValidationResult{Errors: errs}
}

// Validate runs an item through the validation gate.
//
// Items must carry a known "type". Items routed to the data container must
// also carry a string "language.id", since the store rejects writes without
// their partition key whatever the schema says. Only then is the item checked
// against its schema: the type's database-specific override if one is
// registered, otherwise the type's general schema.
func (s *Store) Validate(item Item) ValidationResult {
	container, ok := s.registry.Container(item.Type())
	if !ok {
		return invalid(&ValidationError{
			Message:      "Database items require a valid 'type' property.",
			InstancePath: "/type",
			Property:     "type",
			Cause:        item,
		})
	}

	if container == Data {
		if _, ok := item.LanguageID(); !ok {
			return invalid(&ValidationError{
				Message:      "Items in the 'data' container require a 'language.id' property.",
				InstancePath: "/language/id",
				Property:     "language.id",
				Cause:        item,
			})
		}
	}

	schemaID := schema.ID(s.registry.SchemaName(item.Type()))
	violations, err := s.validator.Validate(schemaID, map[string]any(item))
	if err != nil {
		return invalid(&ValidationError{
			Message: err.Error(),
			Params:  map[string]any{"schema": schemaID},
			Cause:   item,
		})
	}
	if len(violations) == 0 {
		return ValidationResult{Valid: true}
	}

	errs := make([]*ValidationError, len(violations))
	for i, v := range violations {
		errs[i] = &ValidationError{
			Message:      v.Message,
			InstancePath: v.InstancePath,
			Property:     v.Property,
			Params:       v.Params,
			Cause:        item,
		}
	}
	return invalid(errs...)
}

// validateAll validates items in order and stops at the first invalid one.
func (s *Store) validateAll(items []Item) ValidationResult {
	for _, item := range items {
		if res := s.Validate(item); !res.Valid {
			return res
		}
	}
	return ValidationResult{Valid: true}
}
