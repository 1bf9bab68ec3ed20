// Package htmlstream rewrites an HTML document while it streams through.
//
// A Reader pulls bytes from its source only when its own caller asks for
// output, so a slow client slows the origin read down and nothing but the
// current token and the open-element stack is held in memory. Bytes no rule
// touched are written back exactly as they arrived.
package htmlstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"
)

var ErrClosed = errors.New("htmlstream: reader closed")

// PassthroughTokenTooLarge is reported to the Observer when the walker gives
// up on a document and copies the rest of it unchanged.
const PassthroughTokenTooLarge = "token_too_large"

// Matcher decides whether a start tag is selected. The node it receives has
// its open ancestors and preceding element siblings attached, and carries the
// attributes as they appear in the source.
type Matcher interface {
	Match(n *html.Node) bool
}

type Rule interface {
	ID() string
	Apply(el *Element) error
}

// Binding pairs a matcher with the rule applied to the elements it selects.
type Binding struct {
	Matcher Matcher
	Rule    Rule
}

type Observer interface {
	RuleApplied(id string)
	RuleFailed(id string, err error)
	Passthrough(reason string)
}

type Options struct {
	// Observer is told about rule outcomes. Nil discards them.
	Observer Observer
	// MarkerAttribute names the attribute that lists the ids of insert and
	// wrap rules applied to an element. Empty disables it.
	MarkerAttribute string
	// FenceComment surrounds inserted HTML with <!--name--> and
	// <!--/name-->, and fenced regions in the input are copied without
	// matching. Empty disables it.
	FenceComment string
	// MaxTokenBytes caps a single token. Zero means no limit.
	MaxTokenBytes int
}

type nopObserver struct{}

func (nopObserver) RuleApplied(string)       {}
func (nopObserver) RuleFailed(string, error) {}
func (nopObserver) Passthrough(string)       {}

// Reader is an io.ReadCloser yielding the rewritten document. It is not safe
// for concurrent use.
type Reader struct {
	src      io.ReadCloser
	scanner  *Scanner
	bindings []Binding
	opts     Options
	observer Observer
	tree     *tree

	fenceOpen  []byte
	fenceClose []byte
	fenced     int

	// held is the rewritten start of a raw text element, kept back until its
	// body is known to fit in a token.
	held *heldStart

	out         bytes.Buffer
	passthrough bool
	chunk       []byte
	err         error
	closed      bool
}

func NewReader(src io.ReadCloser, bindings []Binding, opts Options) *Reader {
	r := &Reader{
		src:      src,
		scanner:  NewScanner(src, opts.MaxTokenBytes),
		bindings: bindings,
		opts:     opts,
		observer: opts.Observer,
		tree:     newTree(),
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if opts.FenceComment != "" {
		r.fenceOpen = []byte(fenceOpen(opts.FenceComment))
		r.fenceClose = []byte(fenceClose(opts.FenceComment))
	}
	return r
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	for r.out.Len() == 0 && r.err == nil {
		r.step()
	}
	if r.out.Len() > 0 {
		return r.out.Read(p)
	}
	return 0, r.err
}

func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.out.Reset()
	return r.src.Close()
}

func (r *Reader) step() {
	if r.passthrough {
		r.copyRaw()
		return
	}

	ev, err := r.scanner.Next()
	if r.held != nil {
		tooLarge := errors.Is(err, ErrTokenTooLarge) ||
			ev.Kind == Text && errors.Is(r.scanner.Err(), ErrTokenTooLarge)
		r.release(tooLarge)
	}
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			r.finish()
			r.err = io.EOF
		case errors.Is(err, ErrTokenTooLarge):
			r.passthrough = true
			r.observer.Passthrough(PassthroughTokenTooLarge)
		default:
			r.err = err
		}
		return
	}

	if r.fenced > 0 {
		r.inFence(ev)
		return
	}

	switch ev.Kind {
	case StartTag:
		r.start(ev)
	case EndTag:
		r.end(ev)
	case Comment:
		if r.fenceOpen != nil && bytes.Equal(ev.Raw, r.fenceOpen) {
			r.fenced = 1
		}
		r.emit(ev.Raw)
	default:
		r.emit(ev.Raw)
	}
}

func (r *Reader) copyRaw() {
	if r.chunk == nil {
		r.chunk = make([]byte, 32*1024)
	}
	n, err := r.src.Read(r.chunk)
	r.out.Write(r.chunk[:n])
	if err != nil {
		r.err = err
	}
}

func (r *Reader) inFence(ev Event) {
	if ev.Kind == Comment {
		switch {
		case bytes.Equal(ev.Raw, r.fenceOpen):
			r.fenced++
		case bytes.Equal(ev.Raw, r.fenceClose):
			r.fenced--
		}
	}
	r.emit(ev.Raw)
}

func (r *Reader) emit(b []byte) {
	if r.tree.suppressed == 0 {
		r.out.Write(b)
	}
}

func (r *Reader) start(ev Event) {
	for r.tree.implied(ev.Name) {
		r.close(r.tree.pop(), nil)
	}

	once := r.tree.endsAtOnce(ev)
	if r.tree.suppressed > 0 {
		if !once {
			r.tree.push(&open{name: ev.Name})
		}
		return
	}

	node := r.tree.attach(ev)
	el := newElement(ev, once, r.opts.FenceComment)
	r.apply(el, node)

	if el.removed {
		writeAll(&r.out, el.before)
		r.out.Write(el.replacement)
		if once {
			writeAll(&r.out, el.after)
			return
		}
		r.tree.push(&open{name: ev.Name, node: node, el: el, removed: true})
		return
	}

	if once {
		writeAll(&r.out, el.before)
		el.writeStart(&r.out, ev.Raw, r.opts.MarkerAttribute)
		writeAll(&r.out, el.after)
		return
	}
	if el.rawText {
		h := &heldStart{raw: ev.Raw}
		writeAll(&h.rewritten, el.before)
		el.writeStart(&h.rewritten, ev.Raw, r.opts.MarkerAttribute)
		writeAll(&h.rewritten, el.prepended)
		r.held = h
	} else {
		writeAll(&r.out, el.before)
		el.writeStart(&r.out, ev.Raw, r.opts.MarkerAttribute)
		writeAll(&r.out, el.prepended)
	}
	r.tree.push(&open{name: ev.Name, node: node, el: el})
}

type heldStart struct {
	raw       []byte
	rewritten bytes.Buffer
}

// release writes the held start tag. When the body overflowed the token limit
// the rest of the document is copied unchanged, so the source tag is written
// and the element's edits are dropped.
func (r *Reader) release(tooLarge bool) {
	if tooLarge {
		r.out.Write(r.held.raw)
	} else {
		r.out.Write(r.held.rewritten.Bytes())
	}
	r.held = nil
}

func (r *Reader) end(ev Event) {
	i := r.tree.find(ev.Name)
	if i < 0 {
		r.emit(ev.Raw)
		return
	}
	for len(r.tree.stack) > i+1 {
		r.close(r.tree.pop(), nil)
	}
	r.close(r.tree.pop(), ev.Raw)
}

// close emits whatever follows the content of a popped element. endRaw is nil
// when the end tag was implied.
func (r *Reader) close(o *open, endRaw []byte) {
	if o == nil || o.el == nil {
		return
	}
	if o.removed {
		if r.tree.suppressed == 0 {
			writeAll(&r.out, o.el.after)
		}
		return
	}
	writeAll(&r.out, o.el.appended)
	r.out.Write(endRaw)
	writeAll(&r.out, o.el.after)
}

func (r *Reader) finish() {
	for len(r.tree.stack) > 0 {
		r.close(r.tree.pop(), nil)
	}
}

func (r *Reader) apply(el *Element, node *html.Node) {
	for _, b := range r.bindings {
		if el.removed {
			return
		}
		if !b.Matcher.Match(node) {
			continue
		}
		id := b.Rule.ID()
		if el.hasMark(r.opts.MarkerAttribute, id) {
			continue
		}

		saved := el.snapshot()
		el.rule = id
		err := applyRule(b.Rule, el)
		el.rule = ""
		if err != nil {
			el.restore(saved)
			r.observer.RuleFailed(id, err)
			continue
		}
		r.observer.RuleApplied(id)
	}
}

func applyRule(rule Rule, el *Element) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID(), p)
		}
	}()
	return rule.Apply(el)
}
