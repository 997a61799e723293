package plugin

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	"objectos/internal/apierr"
)

// identifierPattern accepts reverse-DNS and kebab-case identifiers:
// "audit", "object-store", "com.example.billing".
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*([.-][a-z0-9]+)*$`)

// Validator checks manifests before the kernel will register their plugins.
// All problems are collected so the operator sees every one at once, never
// just the first.
type Validator struct {
	structValidator *validator.Validate
}

// NewValidator creates a manifest validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json field names instead of Go field names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		tag := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if tag == "-" || tag == "" {
			return field.Name
		}
		return tag
	})

	return &Validator{structValidator: v}
}

// Validate returns nil for an acceptable manifest, or a ValidationErrors
// listing every failure.
func (v *Validator) Validate(m Manifest) error {
	ve := &apierr.ValidationErrors{}

	if err := v.structValidator.Struct(m); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				ve.Add(fe.Field(), "is required")
			}
		} else {
			ve.Add("", "manifest shape invalid: %v", err)
		}
	}

	if m.ID != "" && !identifierPattern.MatchString(m.ID) {
		ve.Add("id", "identifier %q must be lower-case kebab-case or reverse-DNS", m.ID)
	}

	if m.Version != "" {
		if _, err := semver.StrictNewVersion(m.Version); err != nil {
			ve.Add("version", "%q is not a semver version", m.Version)
		}
	}

	for dep, rng := range m.Dependencies {
		if !identifierPattern.MatchString(dep) {
			ve.Add("dependencies", "dependency key %q is not a valid identifier", dep)
		}
		if rng == "" {
			ve.Add("dependencies", "dependency %q has an empty version range", dep)
			continue
		}
		if _, err := semver.NewConstraint(rng); err != nil {
			ve.Add("dependencies", "dependency %q has invalid range %q", dep, rng)
		}
	}

	for engine, rng := range m.Engines {
		if rng == "" {
			ve.Add("engines", "engine %q has an empty version range", engine)
			continue
		}
		if _, err := semver.NewConstraint(rng); err != nil {
			ve.Add("engines", "engine %q has invalid range %q", engine, rng)
		}
	}

	for i, perm := range m.Permissions {
		if strings.TrimSpace(perm) == "" {
			ve.Add("permissions", "permission at index %d is empty", i)
		}
	}

	return ve.OrNil()
}
