package rules

import "github.com/klyr/edgerewrite/internal/htmlstream"

// Entry describes one compiled rule for listings.
type Entry struct {
	ID       string
	Selector string
	Action   string
	Summary  string
}

// Registry is the ordered set of compiled rules. It is built once and shared
// read-only by every request.
type Registry struct {
	bindings []htmlstream.Binding
	entries  []Entry
}

// Bindings returns the rules in application order. Callers must not modify
// the slice.
func (r *Registry) Bindings() []htmlstream.Binding {
	if r == nil {
		return nil
	}
	return r.bindings
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bindings)
}

func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.ID
	}
	return ids
}

func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}
