package chat

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// maxCachedFilters bounds the compiled filter cache. The cache is dropped
// wholesale when full.
const maxCachedFilters = 256

// filterCache compiles messageAdded filter expressions once per source.
type filterCache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newFilterCache() *filterCache {
	return &filterCache{programs: make(map[string]*vm.Program)}
}

// filterEnv is the environment a filter sees. Keys match the Message
// fields of the schema.
func filterEnv(m Message) map[string]interface{} {
	return map[string]interface{}{
		"id":      m.ID,
		"channel": m.Channel,
		"author":  m.Author,
		"text":    m.Text,
		"sentAt":  m.SentAt,
	}
}

func (c *filterCache) compile(source string) (*vm.Program, error) {
	c.mu.RLock()
	if program, ok := c.programs[source]; ok {
		c.mu.RUnlock()
		return program, nil
	}
	c.mu.RUnlock()

	program, err := expr.Compile(source, expr.Env(filterEnv(Message{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", source, err)
	}

	c.mu.Lock()
	if existing, ok := c.programs[source]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	if len(c.programs) >= maxCachedFilters {
		clear(c.programs)
	}
	c.programs[source] = program
	c.mu.Unlock()

	return program, nil
}

// match reports whether m passes program.
func match(program *vm.Program, m Message) (bool, error) {
	out, err := expr.Run(program, filterEnv(m))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
