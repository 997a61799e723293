package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"objectos/internal/apierr"
	"objectos/pkg/logging"
)

// LoadDir reads every permission-set document (*.yaml, *.yml) in dir. Files
// are processed in lexical order so merge precedence is stable. Parse and
// validation problems across all files are collected into one
// ValidationErrors instead of failing on the first.
func LoadDir(dir string) ([]*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading permissions directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var sets []*Set
	validationErrs := &apierr.ValidationErrors{}
	seen := make(map[string]string)

	for _, name := range files {
		path := filepath.Join(dir, name)
		set, err := ParseSetFile(path)
		if err != nil {
			validationErrs.Add(name, "%s", err.Error())
			continue
		}

		if firstFile, dup := seen[set.Name]; dup {
			validationErrs.Add(name, "duplicate permission set '%s' (first defined in %s)", set.Name, firstFile)
			continue
		}
		seen[set.Name] = name

		validateSet(set, name, validationErrs)
		sets = append(sets, set)
	}

	if err := validationErrs.OrNil(); err != nil {
		return nil, err
	}

	logging.Debug("Permissions", "Loaded %d permission sets from %s", len(sets), dir)
	return sets, nil
}

// ParseSetFile parses one permission-set YAML document.
func ParseSetFile(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &set, nil
}

// validateSets checks programmatically registered sets, collecting every
// problem across all of them.
func validateSets(sets []*Set) error {
	validationErrs := &apierr.ValidationErrors{}
	seen := make(map[string]bool)

	for i, s := range sets {
		source := fmt.Sprintf("set %d", i)
		if s.Name != "" {
			source = s.Name
		}
		if seen[s.Name] {
			validationErrs.Add(source, "duplicate permission set '%s'", s.Name)
			continue
		}
		seen[s.Name] = true
		validateSet(s, source, validationErrs)
	}
	return validationErrs.OrNil()
}

// validateSet appends every problem with one set to errs. source names the
// file or registration site for error messages.
func validateSet(s *Set, source string, errs *apierr.ValidationErrors) {
	if s.Name == "" {
		errs.Add(source+".name", "permission set name is required")
	}
	if s.Object == "" {
		errs.Add(source+".object", "target object is required")
	}
	if s.DefaultAccess != "" && !s.DefaultAccess.Valid() {
		errs.Add(source+".defaultAccess", "unknown access level '%s'", s.DefaultAccess)
	}
	if len(s.Profiles) == 0 {
		errs.Add(source+".profiles", "at least one profile block is required")
	}

	for profile, perm := range s.Profiles {
		if profile == "" {
			errs.Add(source+".profiles", "profile name must not be empty")
		}
		validateFilters(perm.ViewFilters, fmt.Sprintf("%s.profiles.%s.viewFilters", source, profile), errs)
	}

	for field, perm := range s.Fields {
		if field == "" {
			errs.Add(source+".fields", "field name must not be empty")
			continue
		}
		// Editable requires readable.
		for _, editor := range perm.EditableBy {
			if !contains(perm.VisibleTo, editor) {
				errs.Add(fmt.Sprintf("%s.fields.%s", source, field),
					"profile '%s' is editableBy but not visibleTo; editable fields must be readable", editor)
			}
		}
	}

	for i, rule := range s.SharingRules {
		where := fmt.Sprintf("%s.sharingRules[%d]", source, i)
		if rule.Name == "" {
			errs.Add(where+".name", "sharing rule name is required")
		}
		if rule.Access != SharingAccessRead && rule.Access != SharingAccessReadWrite {
			errs.Add(where+".access", "access must be '%s' or '%s', got '%s'",
				SharingAccessRead, SharingAccessReadWrite, rule.Access)
		}
		if len(rule.Filters) == 0 {
			errs.Add(where+".filters", "sharing rule filters must not be empty")
		}
		validateFilters(rule.Filters, where+".filters", errs)
	}
}

// validateFilters rejects reserved keys in user-declared filters. The engine
// owns $-prefixed composition operators.
func validateFilters(filters map[string]interface{}, where string, errs *apierr.ValidationErrors) {
	for key := range filters {
		if key == "" {
			errs.Add(where, "filter keys must not be empty")
		}
		if strings.HasPrefix(key, "$") {
			errs.Add(where, "filter key '%s' uses a reserved operator prefix", key)
		}
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
