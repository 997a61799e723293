// Package metadata implements the kernel's typed metadata registry: object,
// field, app, chart, and page definitions keyed by (type, id). Entries
// flagged customizable=false are system-owned and refuse unregistration and
// mutation.
package metadata

import (
	"fmt"
	"sort"
	"sync"

	"objectos/internal/apierr"
)

// Type categorizes metadata entries. The set is open; these are the types
// the kernel itself knows about.
type Type string

const (
	TypeObject Type = "object"
	TypeField  Type = "field"
	TypeApp    Type = "app"
	TypeChart  Type = "chart"
	TypePage   Type = "page"
)

// Entry is one metadata record. Content is treated as immutable once
// registered; replace the entry to change it.
type Entry struct {
	Type Type `json:"type"`

	// ID is unique within the entry's type. Field entries use
	// "object.field" identifiers.
	ID string `json:"id"`

	// Package groups entries by their source for bulk unregistration.
	Package string `json:"package,omitempty"`

	// Customizable is false for system-owned entries, which cannot be
	// replaced or unregistered.
	Customizable bool `json:"customizable"`

	Content map[string]interface{} `json:"content,omitempty"`
}

// Registry is the (type, id) → entry collection.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]map[string]Entry
}

// NewRegistry creates an empty metadata registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Type]map[string]Entry),
	}
}

// Register inserts or replaces an entry. Replacing is allowed only while the
// existing entry is customizable; system entries reject any mutation.
func (r *Registry) Register(e Entry) error {
	if e.Type == "" {
		return fmt.Errorf("metadata entry has empty type")
	}
	if e.ID == "" {
		return fmt.Errorf("metadata entry has empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.entries[e.Type]
	if !ok {
		byID = make(map[string]Entry)
		r.entries[e.Type] = byID
	}

	if existing, exists := byID[e.ID]; exists && !existing.Customizable {
		return &apierr.NotCustomizableError{EntryType: string(e.Type), Name: e.ID}
	}

	e.Content = cloneContent(e.Content)
	byID[e.ID] = e
	return nil
}

// Unregister removes an entry. System entries raise and remain present.
func (r *Registry) Unregister(typ Type, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.entries[typ]
	existing, exists := byID[id]
	if !exists {
		return apierr.NewMetadataNotFoundError(fmt.Sprintf("%s/%s", typ, id))
	}
	if !existing.Customizable {
		return &apierr.NotCustomizableError{EntryType: string(typ), Name: id}
	}

	delete(byID, id)
	return nil
}

// Get returns a copy of the entry under (typ, id).
func (r *Registry) Get(typ Type, id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[typ][id]
	if !exists {
		return Entry{}, apierr.NewMetadataNotFoundError(fmt.Sprintf("%s/%s", typ, id))
	}
	entry.Content = cloneContent(entry.Content)
	return entry, nil
}

// Has reports entry presence.
func (r *Registry) Has(typ Type, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entries[typ][id]
	return exists
}

// List returns every entry of a type, ordered by id.
func (r *Registry) List(typ Type) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.entries[typ]
	list := make([]Entry, 0, len(byID))
	for _, entry := range byID {
		entry.Content = cloneContent(entry.Content)
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// UnregisterPackage removes every customizable entry belonging to a source
// package, across all types, and returns how many were removed. System
// entries in the package survive.
func (r *Registry) UnregisterPackage(pkg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, byID := range r.entries {
		for id, entry := range byID {
			if entry.Package == pkg && entry.Customizable {
				delete(byID, id)
				removed++
			}
		}
	}
	return removed
}

// ValidateObjectCustomizable passes for objects that are customizable or do
// not exist yet (creation is allowed), and raises a typed error naming the
// system object otherwise.
func (r *Registry) ValidateObjectCustomizable(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[TypeObject][id]
	if exists && !entry.Customizable {
		return &apierr.NotCustomizableError{EntryType: "object", Name: id}
	}
	return nil
}

// ValidateFieldCustomizable is the field-level analog; fields are keyed
// "object.field".
func (r *Registry) ValidateFieldCustomizable(object, field string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := object + "." + field
	entry, exists := r.entries[TypeField][id]
	if exists && !entry.Customizable {
		return &apierr.NotCustomizableError{EntryType: "field", Name: id}
	}
	return nil
}

func cloneContent(content map[string]interface{}) map[string]interface{} {
	if content == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(content))
	for k, v := range content {
		copied[k] = v
	}
	return copied
}
