package htmlstream

import (
	"bytes"
	"html"
	"strings"
)

type attrState int

const (
	attrSource attrState = iota
	attrChanged
	attrDropped
	attrAdded
)

type attrEntry struct {
	Attribute
	state attrState
}

// edits is everything a rule can change on an element. It is copied to roll
// back a rule that failed halfway.
type edits struct {
	attrs       []attrEntry
	before      [][]byte
	after       [][]byte
	prepended   [][]byte
	appended    [][]byte
	replacement []byte
	removed     bool
	marks       []string
}

func (e edits) clone() edits {
	out := e
	out.attrs = append([]attrEntry(nil), e.attrs...)
	out.before = append([][]byte(nil), e.before...)
	out.after = append([][]byte(nil), e.after...)
	out.prepended = append([][]byte(nil), e.prepended...)
	out.appended = append([][]byte(nil), e.appended...)
	out.marks = append([]string(nil), e.marks...)
	return out
}

// Element is the handle rules receive for a matched start tag. Mutations are
// recorded and turned into output when the walker emits the element.
type Element struct {
	name        string
	selfClosing bool
	void        bool
	rawText     bool
	tag         *tagLayout
	fence       string
	rule        string

	edits
}

func newElement(ev Event, void bool, fence string) *Element {
	el := &Element{
		name:        ev.Name,
		selfClosing: ev.SelfClosing,
		void:        void,
		rawText:     rawTextElements[ev.Name],
		tag:         ev.tag,
		fence:       fence,
	}
	if el.tag == nil {
		el.tag = parseTag(ev.Raw)
	}
	el.attrs = make([]attrEntry, len(el.tag.attrs))
	for i, a := range el.tag.attrs {
		el.attrs[i] = attrEntry{Attribute: a}
	}
	return el
}

func (e *Element) Name() string { return e.name }

func (e *Element) SelfClosing() bool { return e.selfClosing }

// Void reports whether the element has no content, in which case Prepend,
// Append and Wrap have no effect.
func (e *Element) Void() bool { return e.void }

func (e *Element) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.attrs {
		if a.state != attrDropped && a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attributes returns the current attributes in document order.
func (e *Element) Attributes() []Attribute {
	out := make([]Attribute, 0, len(e.attrs))
	for _, a := range e.attrs {
		if a.state != attrDropped {
			out = append(out, Attribute{Name: a.Name, Value: a.Value})
		}
	}
	return out
}

// SetAttr sets the first attribute called name, adding it at the end of the
// tag when absent.
func (e *Element) SetAttr(name, value string) {
	name = strings.ToLower(name)
	for i := range e.attrs {
		a := &e.attrs[i]
		if a.state == attrDropped || a.Name != name {
			continue
		}
		if a.Value == value {
			return
		}
		a.Value = value
		if a.state == attrSource {
			a.state = attrChanged
		}
		return
	}
	e.attrs = append(e.attrs, attrEntry{
		Attribute: Attribute{Name: name, Value: value},
		state:     attrAdded,
	})
}

// RemoveAttr drops every attribute called name.
func (e *Element) RemoveAttr(name string) {
	name = strings.ToLower(name)
	for i := range e.attrs {
		if e.attrs[i].Name == name {
			e.attrs[i].state = attrDropped
		}
	}
}

func (e *Element) Before(content string, asHTML bool) {
	e.before = append(e.before, e.content(content, asHTML))
	e.mark()
}

func (e *Element) After(content string, asHTML bool) {
	e.after = append(e.after, e.content(content, asHTML))
	e.mark()
}

// Prepend inserts content right after the start tag. Inside script, style and
// other raw text elements HTML content is written without fence comments.
func (e *Element) Prepend(content string, asHTML bool) {
	if e.void {
		return
	}
	e.prepended = append(e.prepended, e.inner(content, asHTML))
	e.mark()
}

func (e *Element) Append(content string, asHTML bool) {
	if e.void {
		return
	}
	e.appended = append(e.appended, e.inner(content, asHTML))
	e.mark()
}

// Wrap puts prefix right after the start tag and suffix right before the end
// tag. Both are written as is, without escaping or fencing, so they can sit
// inside script and style bodies.
func (e *Element) Wrap(prefix, suffix string) {
	if e.void {
		return
	}
	if prefix != "" {
		e.prepended = append(e.prepended, []byte(prefix))
	}
	if suffix != "" {
		e.appended = append(e.appended, []byte(suffix))
	}
	e.mark()
}

// Remove drops the element and everything inside it.
func (e *Element) Remove() {
	e.removed = true
	e.replacement = nil
}

// Replace emits content in place of the element and everything inside it.
func (e *Element) Replace(content string, asHTML bool) {
	e.removed = true
	e.replacement = e.content(content, asHTML)
}

func (e *Element) Removed() bool { return e.removed }

func (e *Element) content(s string, asHTML bool) []byte {
	if !asHTML {
		return []byte(html.EscapeString(s))
	}
	if e.fence == "" {
		return []byte(s)
	}
	return []byte(fenceOpen(e.fence) + s + fenceClose(e.fence))
}

// inner renders content placed inside the element. A fence comment in a raw
// text body is not a comment, and in a script it starts a line comment.
func (e *Element) inner(s string, asHTML bool) []byte {
	if asHTML && e.rawText {
		return []byte(s)
	}
	return e.content(s, asHTML)
}

func (e *Element) mark() {
	if e.rule == "" {
		return
	}
	for _, m := range e.marks {
		if m == e.rule {
			return
		}
	}
	e.marks = append(e.marks, e.rule)
}

func (e *Element) snapshot() edits { return e.edits.clone() }

func (e *Element) restore(s edits) { e.edits = s }

// hasMark reports whether the marker attribute already lists id.
func (e *Element) hasMark(marker, id string) bool {
	if marker == "" {
		return false
	}
	v, ok := e.Attr(marker)
	if !ok {
		return false
	}
	for _, f := range strings.Fields(v) {
		if f == id {
			return true
		}
	}
	return false
}

// writeStart writes the start tag, reusing source bytes when nothing changed.
func (e *Element) writeStart(b *bytes.Buffer, raw []byte, marker string) {
	if marker != "" && len(e.marks) > 0 {
		v, _ := e.Attr(marker)
		ids := strings.Fields(v)
		ids = append(ids, e.marks...)
		e.SetAttr(marker, strings.Join(ids, " "))
	}

	dirty := false
	for _, a := range e.attrs {
		if a.state != attrSource {
			dirty = true
			break
		}
	}
	if !dirty {
		b.Write(raw)
		return
	}

	b.Write(e.tag.head)
	for _, a := range e.attrs {
		switch a.state {
		case attrSource:
			b.Write(a.raw)
		case attrChanged:
			writeAttr(b, a.leading(), a.Name, a.Value)
		case attrAdded:
			writeAttr(b, nil, a.Name, a.Value)
		}
	}
	if len(e.tag.tail) == 0 {
		b.WriteByte('>')
		return
	}
	b.Write(e.tag.tail)
}

func fenceOpen(name string) string  { return "<!--" + name + "-->" }
func fenceClose(name string) string { return "<!--/" + name + "-->" }

func writeAll(b *bytes.Buffer, parts [][]byte) {
	for _, p := range parts {
		b.Write(p)
	}
}
