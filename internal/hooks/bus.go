// Package hooks implements the kernel's event/hook bus. Topics are plain
// strings; handlers run in registration order. Gate topics (final segment
// prefixed with "before", e.g. data.beforeCreate) abort on the first handler
// error, observer topics run every handler and report errors afterwards.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"objectos/pkg/logging"
)

// Handler is a hook callback. Gate handlers may annotate the payload (for
// example attaching permission filters) or return an error to abort the
// operation. Observer handlers must treat the payload as read-only; there is
// no precedence between observers beyond registration order.
type Handler func(ctx context.Context, payload map[string]interface{}) error

type registration struct {
	seq     int
	handler Handler
}

// Bus is the hook table. Patterns ending in ".*" subscribe to every topic
// under that prefix (audit uses "job.*").
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	known    map[string]bool
	warned   map[string]bool
	seq      int
}

// New creates a bus seeded with the given known topics. Registering or
// triggering a topic outside the seeded set still works but is logged once,
// which catches typos in stringly-typed topic names.
func New(knownTopics ...string) *Bus {
	b := &Bus{
		handlers: make(map[string][]registration),
		known:    make(map[string]bool),
		warned:   make(map[string]bool),
	}
	b.RegisterTopics(knownTopics...)
	return b
}

// RegisterTopics adds names to the known-topic set. Plugins that define
// their own topics call this during init.
func (b *Bus) RegisterTopics(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range names {
		if name != "" {
			b.known[name] = true
		}
	}
}

// Hook appends a handler to a topic or a ".*" pattern.
func (b *Bus) Hook(topic string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("cannot hook nil handler to topic %s", topic)
	}
	if topic == "" {
		return fmt.Errorf("cannot hook handler to empty topic")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.warnUnknownLocked(topic)
	b.seq++
	b.handlers[topic] = append(b.handlers[topic], registration{seq: b.seq, handler: handler})
	return nil
}

// Trigger invokes the handlers subscribed to topic, in registration order,
// awaiting each before the next. For gate topics the first error aborts the
// remainder and is returned. For observer topics every handler runs; their
// errors are logged and joined into the return value.
func (b *Bus) Trigger(ctx context.Context, topic string, payload map[string]interface{}) error {
	b.mu.Lock()
	b.warnUnknownLocked(topic)
	b.mu.Unlock()

	handlers := b.collect(topic)
	if len(handlers) == 0 {
		return nil
	}

	if IsGateTopic(topic) {
		for i, reg := range handlers {
			if err := b.invoke(ctx, topic, i, reg.handler, payload); err != nil {
				return err
			}
		}
		return nil
	}

	var errs []error
	for i, reg := range handlers {
		if err := b.invoke(ctx, topic, i, reg.handler, payload); err != nil {
			logging.Error("Hooks", err, "Observer handler %d for topic %s failed", i, topic)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// collect snapshots the handlers for a topic, merging exact and pattern
// subscriptions by registration order. Invocation happens outside the lock
// so a handler may register further hooks.
func (b *Bus) collect(topic string) []registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]registration, 0, len(b.handlers[topic]))
	matched = append(matched, b.handlers[topic]...)

	for pattern, regs := range b.handlers {
		if pattern == topic || !strings.HasSuffix(pattern, ".*") {
			continue
		}
		if strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*")) {
			matched = append(matched, regs...)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	return matched
}

func (b *Bus) invoke(ctx context.Context, topic string, index int, handler Handler, payload map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %d for topic %s panicked: %v", index, topic, r)
		}
	}()
	return handler(ctx, payload)
}

func (b *Bus) warnUnknownLocked(topic string) {
	if b.known[topic] || b.warned[topic] || strings.HasSuffix(topic, ".*") {
		return
	}
	b.warned[topic] = true
	logging.Warn("Hooks", "Topic %q is not in the known-topic registry", topic)
}

// Topics returns the known topics in sorted order.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.known))
	for name := range b.known {
		topics = append(topics, name)
	}
	sort.Strings(topics)
	return topics
}

// HandlerCount returns how many handlers are attached to an exact topic or
// pattern. Diagnostic use only.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers[topic])
}

// IsGateTopic reports whether a topic aborts on the first handler error.
// Gate topics carry a final segment prefixed with "before", like
// data.beforeCreate or data.beforeFind.
func IsGateTopic(topic string) bool {
	last := topic
	if i := strings.LastIndex(topic, "."); i >= 0 {
		last = topic[i+1:]
	}
	return strings.HasPrefix(last, "before")
}
