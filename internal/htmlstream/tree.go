package htmlstream

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "basefont": true, "bgsound": true, "br": true,
	"col": true, "embed": true, "frame": true, "hr": true, "img": true,
	"input": true, "keygen": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// rawTextElements hold text the tokenizer never splits into tags.
var rawTextElements = map[string]bool{
	"iframe": true, "noembed": true, "noframes": true, "noscript": true,
	"plaintext": true, "script": true, "style": true, "textarea": true,
	"title": true, "xmp": true,
}

var blockClosesP = []string{
	"address", "article", "aside", "blockquote", "details", "div", "dl",
	"fieldset", "figcaption", "figure", "footer", "form", "h1", "h2", "h3",
	"h4", "h5", "h6", "header", "hgroup", "hr", "main", "menu", "nav", "ol",
	"p", "pre", "section", "table", "ul",
}

// impliedEnds maps a start tag to the open elements it closes when they are
// the innermost open element.
var impliedEnds = map[string]map[string]bool{
	"li":       {"li": true},
	"dt":       {"dt": true, "dd": true},
	"dd":       {"dt": true, "dd": true},
	"option":   {"option": true},
	"optgroup": {"option": true, "optgroup": true},
	"tr":       {"tr": true, "td": true, "th": true},
	"td":       {"td": true, "th": true},
	"th":       {"td": true, "th": true},
	"tbody":    {"tr": true, "td": true, "th": true, "thead": true, "tbody": true},
	"tfoot":    {"tr": true, "td": true, "th": true, "thead": true, "tbody": true},
	"thead":    {"tr": true, "td": true, "th": true, "thead": true, "tbody": true},
	"body":     {"head": true},
}

func init() {
	for _, name := range blockClosesP {
		m := impliedEnds[name]
		if m == nil {
			m = map[string]bool{}
			impliedEnds[name] = m
		}
		m["p"] = true
	}
}

// open is one entry of the open-element stack.
type open struct {
	name    string
	node    *html.Node
	el      *Element
	foreign bool
	// removed is set on the element a rule removed or replaced.
	removed bool
}

// tree keeps the open-element stack and a skeleton of the document for the
// matchers: the open elements and, below each of them, the element siblings
// seen so far. Closed elements lose their children.
type tree struct {
	doc   *html.Node
	stack []*open
	// suppressed counts removed elements on the stack.
	suppressed int
}

func newTree() *tree {
	return &tree{doc: &html.Node{Type: html.DocumentNode}}
}

func (t *tree) top() *open {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

func (t *tree) inForeign() bool {
	top := t.top()
	return top != nil && top.foreign
}

// attach adds a skeleton node for ev under the innermost open element.
func (t *tree) attach(ev Event) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     ev.Name,
		DataAtom: atom.Lookup([]byte(ev.Name)),
	}
	if len(ev.Attrs) > 0 {
		n.Attr = make([]html.Attribute, len(ev.Attrs))
		for i, a := range ev.Attrs {
			n.Attr[i] = html.Attribute{Key: a.Name, Val: a.Value}
		}
	}
	parent := t.doc
	if top := t.top(); top != nil && top.node != nil {
		parent = top.node
	}
	parent.AppendChild(n)
	return n
}

// endsAtOnce reports whether a start tag never gets an end tag of its own.
func (t *tree) endsAtOnce(ev Event) bool {
	if voidElements[ev.Name] {
		return true
	}
	return ev.SelfClosing && t.inForeign()
}

func (t *tree) push(o *open) {
	if top := t.top(); top != nil && top.foreign {
		o.foreign = true
	}
	if o.name == "svg" || o.name == "math" {
		o.foreign = true
	}
	if o.removed {
		t.suppressed++
	}
	t.stack = append(t.stack, o)
}

func (t *tree) pop() *open {
	o := t.top()
	if o == nil {
		return nil
	}
	t.stack = t.stack[:len(t.stack)-1]
	if o.removed {
		t.suppressed--
	}
	if o.node != nil {
		o.node.FirstChild = nil
		o.node.LastChild = nil
	}
	return o
}

// implied reports whether a start tag called name closes the innermost open
// element.
func (t *tree) implied(name string) bool {
	top := t.top()
	if top == nil || top.foreign {
		return false
	}
	return impliedEnds[name][top.name]
}

// find returns the stack depth of the innermost open element called name, or
// -1.
func (t *tree) find(name string) int {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i].name == name {
			return i
		}
	}
	return -1
}
