package attr

import (
	"sort"

	"github.com/redballoonsecurity/shortfuse/internal/common"
)

// ExtraAttributes is the contract for a node's extended key/value attributes.
// Reads of a missing key return an empty value, never an error; removal of a
// missing key fails with common.ErrNotFound. Mutation is capability-gated the
// same way as NodeAttributes.
type ExtraAttributes interface {
	// Get reads an attribute's value; missing keys yield "".
	Get(name string) string
	// Names returns all attribute names, sorted.
	Names() []string
	// Copy creates an independent instance with the same entries.
	Copy() ExtraAttributes

	Set(name, value string) error
	Remove(name string) error
}

// Extra is the read-only base implementation of ExtraAttributes.
type Extra struct {
	entries map[string]string
}

var _ ExtraAttributes = (*Extra)(nil)

// NewExtra creates read-only extra attributes from the given entries.
func NewExtra(entries map[string]string) *Extra {
	e := &Extra{entries: make(map[string]string, len(entries))}
	for name, value := range entries {
		e.entries[name] = value
	}
	return e
}

func (e *Extra) Get(name string) string { return e.entries[name] }

func (e *Extra) Names() []string {
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Extra) Copy() ExtraAttributes { return NewExtra(e.entries) }

func (e *Extra) Set(string, string) error { return common.ErrNotSupported }
func (e *Extra) Remove(string) error      { return common.ErrNotSupported }

// MutableExtra is the in-place mutable implementation of ExtraAttributes.
type MutableExtra struct {
	Extra
}

var _ ExtraAttributes = (*MutableExtra)(nil)

// NewMutableExtra creates mutable extra attributes from the given entries.
func NewMutableExtra(entries map[string]string) *MutableExtra {
	return &MutableExtra{Extra: *NewExtra(entries)}
}

func (e *MutableExtra) Copy() ExtraAttributes { return NewMutableExtra(e.entries) }

func (e *MutableExtra) Set(name, value string) error {
	e.entries[name] = value
	return nil
}

func (e *MutableExtra) Remove(name string) error {
	if _, ok := e.entries[name]; !ok {
		return common.ErrNotFound
	}
	delete(e.entries, name)
	return nil
}
