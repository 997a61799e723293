// Package template implements the variable substitution used by permission
// view filters, notification bodies, and workflow step inputs. Markers have
// the form {{ name }} or {{ user.name }}; dotted paths resolve into nested
// maps in the substitution context.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Engine handles marker substitution over strings, maps, and slices.
type Engine struct {
	// Pattern to match template variables like {{ name }} or {{ user.name }}
	templatePattern *regexp.Regexp
}

// New creates a new template engine.
func New() *Engine {
	return &Engine{
		templatePattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`),
	}
}

// Replace substitutes all markers in value from the context, recursing into
// maps and slices. A marker that cannot be resolved is an error naming every
// missing variable.
func (e *Engine) Replace(value interface{}, context map[string]interface{}) (interface{}, error) {
	return e.replace(value, context, true)
}

// ReplaceLenient substitutes the markers that resolve and leaves the rest in
// place as literal text. Permission filters use this mode: substitution is
// idempotent because only resolvable markers are rewritten.
func (e *Engine) ReplaceLenient(value interface{}, context map[string]interface{}) (interface{}, error) {
	return e.replace(value, context, false)
}

func (e *Engine) replace(value interface{}, context map[string]interface{}, strict bool) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.replaceString(v, context, strict)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			replaced, err := e.replace(val, context, strict)
			if err != nil {
				return nil, fmt.Errorf("error in key '%s': %w", key, err)
			}
			result[key] = replaced
		}
		return result, nil
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			replaced, err := e.replace(val, context, strict)
			if err != nil {
				return nil, fmt.Errorf("error at index %d: %w", i, err)
			}
			result[i] = replaced
		}
		return result, nil
	default:
		// Non-templatable types are returned as-is
		return value, nil
	}
}

func (e *Engine) replaceString(template string, context map[string]interface{}, strict bool) (interface{}, error) {
	matches := e.templatePattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	// A string that is exactly one marker keeps the resolved value's type,
	// so {{ maxRetries }} can substitute a number into a filter or payload.
	if trimmed := strings.TrimSpace(template); len(matches) == 1 && trimmed == matches[0][0] {
		if resolved, ok := lookupPath(context, matches[0][1]); ok {
			return resolved, nil
		}
		if strict {
			return nil, fmt.Errorf("missing template variables: %s", matches[0][1])
		}
		return template, nil
	}

	var missingVars []string
	result := template
	for _, match := range matches {
		resolved, ok := lookupPath(context, match[1])
		if !ok {
			if strict {
				missingVars = append(missingVars, match[1])
			}
			continue
		}
		result = strings.ReplaceAll(result, match[0], stringify(resolved))
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing template variables: %s", strings.Join(missingVars, ", "))
	}

	return result, nil
}

// lookupPath resolves a dotted path like "user.name" against nested maps.
func lookupPath(context map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")

	var current interface{} = context
	for _, segment := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value interface{}) string {
	switch r := value.(type) {
	case string:
		return r
	case int, int32, int64:
		return fmt.Sprintf("%d", r)
	case float32, float64:
		return fmt.Sprintf("%g", r)
	case bool:
		return fmt.Sprintf("%t", r)
	default:
		return fmt.Sprintf("%v", r)
	}
}

// ExtractVariables returns the distinct marker names referenced anywhere in
// a value, including inside nested maps and slices.
func (e *Engine) ExtractVariables(value interface{}) []string {
	variables := make(map[string]bool)
	e.extractVariables(value, variables)

	result := make([]string, 0, len(variables))
	for varName := range variables {
		result = append(result, varName)
	}
	return result
}

func (e *Engine) extractVariables(value interface{}, variables map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, match := range e.templatePattern.FindAllStringSubmatch(v, -1) {
			variables[match[1]] = true
		}
	case map[string]interface{}:
		for _, val := range v {
			e.extractVariables(val, variables)
		}
	case []interface{}:
		for _, val := range v {
			e.extractVariables(val, variables)
		}
	}
}

// ValidateContext ensures every marker referenced by value resolves in the
// given context.
func (e *Engine) ValidateContext(value interface{}, context map[string]interface{}) error {
	var missingVars []string
	for _, varName := range e.ExtractVariables(value) {
		if _, ok := lookupPath(context, varName); !ok {
			missingVars = append(missingVars, varName)
		}
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required variables: %s", strings.Join(missingVars, ", "))
	}
	return nil
}

// MergeContexts merges multiple substitution contexts; later contexts
// override values from earlier ones.
func MergeContexts(contexts ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, ctx := range contexts {
		for key, value := range ctx {
			result[key] = value
		}
	}
	return result
}
