package application

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-assay/internal/ports"
)

// RegisterConfigValidators registers the custom validation tags used by the
// suite and run configuration structs:
//
//   - expectationtype: the value names an expectation in registry.
//   - resultformat: the value is a result format name in any casing.
//   - backendkind: the value is an engine kind accepted by ParseBackend,
//     excluding the generic "sql" which does not pick a driver.
//
// A nil registry makes expectationtype accept any non-empty name.
func RegisterConfigValidators(v *validator.Validate, registry ports.ExpectationRegistry) error {
	if err := v.RegisterValidation("expectationtype", expectationTypeTag(registry)); err != nil {
		return fmt.Errorf("failed to register expectationtype validator: %w", err)
	}

	if err := v.RegisterValidation("resultformat", validateResultFormat); err != nil {
		return fmt.Errorf("failed to register resultformat validator: %w", err)
	}

	if err := v.RegisterValidation("backendkind", validateBackendKind); err != nil {
		return fmt.Errorf("failed to register backendkind validator: %w", err)
	}

	return nil
}

func expectationTypeTag(registry ports.ExpectationRegistry) validator.Func {
	return func(fl validator.FieldLevel) bool {
		typ := fl.Field().String()
		if typ == "" {
			return false
		}
		if registry == nil {
			return true
		}
		_, err := registry.Resolve(typ)
		return err == nil
	}
}

// validateResultFormat accepts empty values so the default applies.
func validateResultFormat(fl validator.FieldLevel) bool {
	_, err := ports.ParseResultFormat(fl.Field().String())
	return err == nil
}

func validateBackendKind(fl validator.FieldLevel) bool {
	kind := fl.Field().String()
	if kind == "sql" {
		return false
	}
	_, err := ports.ParseBackend(kind)
	return err == nil
}
