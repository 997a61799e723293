package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"objectos/internal/apierr"
)

// TemplateStore holds named subject/body templates. Rendering uses
// text/template with the sprig function map, so registered templates get
// upper, trunc, date and friends on top of plain field access.
type TemplateStore struct {
	mu        sync.RWMutex
	funcs     template.FuncMap
	templates map[string]*namedTemplate
}

type namedTemplate struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplateStore creates an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		funcs:     sprig.TxtFuncMap(),
		templates: make(map[string]*namedTemplate),
	}
}

// Register parses and stores a template under name, replacing any previous
// registration. Parse problems in subject and body are both reported.
func (s *TemplateStore) Register(name, subject, body string) error {
	if name == "" {
		return fmt.Errorf("template name must not be empty")
	}

	nt := &namedTemplate{}
	verr := &apierr.ValidationErrors{}

	subjectTmpl, err := template.New(name + ".subject").Funcs(s.funcs).Parse(subject)
	if err != nil {
		verr.Add("subject", "invalid template: %v", err)
	} else {
		nt.subject = subjectTmpl
	}

	bodyTmpl, err := template.New(name + ".body").Funcs(s.funcs).Parse(body)
	if err != nil {
		verr.Add("body", "invalid template: %v", err)
	} else {
		nt.body = bodyTmpl
	}

	if verr.HasErrors() {
		return verr
	}

	s.mu.Lock()
	s.templates[name] = nt
	s.mu.Unlock()
	return nil
}

// Render executes the named template against data and returns the rendered
// subject and body.
func (s *TemplateStore) Render(name string, data map[string]interface{}) (string, string, error) {
	s.mu.RLock()
	nt, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", "", apierr.NewNotFoundError("notification template", name)
	}

	subject, err := execute(nt.subject, data)
	if err != nil {
		return "", "", fmt.Errorf("rendering subject of template %q: %w", name, err)
	}
	body, err := execute(nt.body, data)
	if err != nil {
		return "", "", fmt.Errorf("rendering body of template %q: %w", name, err)
	}
	return subject, body, nil
}

// Has reports whether a template is registered under name.
func (s *TemplateStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[name]
	return ok
}

// Names returns the registered template names, sorted.
func (s *TemplateStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func execute(t *template.Template, data map[string]interface{}) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
