package metadata

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

// definitionFile is the on-disk shape of a metadata document. Object bodies
// stay free-form: everything besides the structural keys (name, fields,
// customizable) lands in Entry.Content untouched.
type definitionFile struct {
	Package string                   `json:"package"`
	Objects []map[string]interface{} `json:"objects"`
}

// LoadDir reads every metadata document (*.yaml, *.yml) in dir and returns
// the entries they declare, objects first, then their fields. Files are
// processed in lexical order. Problems across all files are collected into
// one ValidationErrors.
func LoadDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading metadata directory %s: %w", dir, err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(de.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, de.Name())
		}
	}
	sort.Strings(files)

	var entries []Entry
	validationErrs := &apierr.ValidationErrors{}
	seen := make(map[string]string)

	for _, name := range files {
		fileEntries, err := parseDefinitionFile(filepath.Join(dir, name))
		if err != nil {
			validationErrs.Add(name, "%s", err.Error())
			continue
		}
		for _, e := range fileEntries {
			if e.Type != TypeObject {
				entries = append(entries, e)
				continue
			}
			if firstFile, dup := seen[e.ID]; dup {
				validationErrs.Add(name, "duplicate object '%s' (first defined in %s)", e.ID, firstFile)
				continue
			}
			seen[e.ID] = name
			entries = append(entries, e)
		}
	}

	if err := validationErrs.OrNil(); err != nil {
		return nil, err
	}

	logging.Debug("Metadata", "Loaded %d metadata entries from %s", len(entries), dir)
	return entries, nil
}

// RegisterDir loads a metadata directory into the registry and returns how
// many entries were registered.
func RegisterDir(registry *Registry, dir string) (int, error) {
	entries, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := registry.Register(e); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

func parseDefinitionFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc definitionFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var entries []Entry
	for i, obj := range doc.Objects {
		name, _ := obj["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%s: objects[%d] has no name", path, i)
		}

		customizable := true
		if v, ok := obj["customizable"].(bool); ok {
			customizable = v
		}

		fields, _ := obj["fields"].([]interface{})
		entries = append(entries, Entry{
			Type:         TypeObject,
			ID:           name,
			Package:      doc.Package,
			Customizable: customizable,
			Content:      contentWithout(obj, "name", "fields", "customizable"),
		})

		for j, rawField := range fields {
			field, ok := rawField.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s: object %s fields[%d] is not a mapping", path, name, j)
			}
			fieldName, _ := field["name"].(string)
			if fieldName == "" {
				return nil, fmt.Errorf("%s: object %s fields[%d] has no name", path, name, j)
			}

			fieldCustomizable := customizable
			if v, ok := field["customizable"].(bool); ok {
				fieldCustomizable = v
			}
			entries = append(entries, Entry{
				Type:         TypeField,
				ID:           name + "." + fieldName,
				Package:      doc.Package,
				Customizable: fieldCustomizable,
				Content:      contentWithout(field, "name", "customizable"),
			})
		}
	}
	return entries, nil
}

// contentWithout copies a parsed mapping minus the structural keys.
func contentWithout(m map[string]interface{}, drop ...string) map[string]interface{} {
	content := make(map[string]interface{}, len(m))
	for k, v := range m {
		content[k] = v
	}
	for _, key := range drop {
		delete(content, key)
	}
	if len(content) == 0 {
		return nil
	}
	return content
}
