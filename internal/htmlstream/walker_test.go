package htmlstream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klyr/edgerewrite/internal/selector"
)

type ruleFunc struct {
	id string
	fn func(*Element) error
}

func (r ruleFunc) ID() string              { return r.id }
func (r ruleFunc) Apply(el *Element) error { return r.fn(el) }

func bind(expr, id string, fn func(*Element) error) Binding {
	return Binding{Matcher: selector.MustCompile(expr), Rule: ruleFunc{id: id, fn: fn}}
}

type recorder struct {
	applied     []string
	failed      []string
	passthrough []string
}

func (r *recorder) RuleApplied(id string)         { r.applied = append(r.applied, id) }
func (r *recorder) RuleFailed(id string, _ error) { r.failed = append(r.failed, id) }
func (r *recorder) Passthrough(reason string)     { r.passthrough = append(r.passthrough, reason) }

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func rewrite(t *testing.T, input string, opts Options, bindings ...Binding) string {
	t.Helper()
	r := NewReader(io.NopCloser(strings.NewReader(input)), bindings, opts)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestScannerEvents(t *testing.T) {
	s := NewScanner(strings.NewReader(`<!DOCTYPE html><p class=a>Hi<!-- c --></p><br/>`), 0)

	var got []Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	want := []Event{
		{Kind: Doctype, Raw: []byte("<!DOCTYPE html>")},
		{Kind: StartTag, Name: "p", Attrs: []Attribute{{Name: "class", Value: "a"}}, Raw: []byte("<p class=a>")},
		{Kind: Text, Raw: []byte("Hi")},
		{Kind: Comment, Raw: []byte("<!-- c -->")},
		{Kind: EndTag, Name: "p", Raw: []byte("</p>")},
		{Kind: StartTag, Name: "br", SelfClosing: true, Raw: []byte("<br/>")},
	}
	opts := cmp.Options{cmpopts.IgnoreUnexported(Event{}, Attribute{}), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestNoMatchIsByteIdentical(t *testing.T) {
	inputs := []string{
		"<!DOCTYPE html>\n<HTML lang=en><Head><META charset='utf-8'></head>\r\n<body>",
		`<div   class = "a"  data-x=1 hidden><p>one<p>two</div></span>`,
		`<script>if (a < b && "</div>") { x = '<p class="x">' }</script>`,
		`<style>p > a { color: red }</style><textarea><b>raw</b></textarea>`,
		`<svg viewBox="0 0 1 1"><path d="M0 0"/></svg><img src=x alt=''/>`,
		`<p>unterminated <a href="https://example.com/`,
		`text only & &amp; stray </b> <!-- comment -- --> <![CDATA[x]]>`,
		``,
	}
	for _, in := range inputs {
		got := rewrite(t, in, Options{MarkerAttribute: "data-edge-rewrite", FenceComment: "edge-rewrite"},
			bind("table.never", "never", func(el *Element) error {
				el.Remove()
				return nil
			}))
		assert.Equal(t, in, got)
	}
}

func TestAttributeRewriteKeepsSourceBytes(t *testing.T) {
	in := `<img  SRC='a.png' data-x=1 alt="A &amp; B"><img src=b.png>`
	got := rewrite(t, in, Options{}, bind(`img[src="a.png"]`, "src", func(el *Element) error {
		el.SetAttr("src", "c.png?a=1&b=2")
		el.SetAttr("loading", "lazy")
		el.SetAttr("decoding", "")
		return nil
	}))
	assert.Equal(t, `<img  src="c.png?a=1&amp;b=2" data-x=1 alt="A &amp; B" loading="lazy" decoding><img src=b.png>`, got)
}

func TestRemoveAttribute(t *testing.T) {
	in := `<a href="/x" onclick="track()" class=btn>go</a>`
	got := rewrite(t, in, Options{}, bind("a[onclick]", "strip", func(el *Element) error {
		el.RemoveAttr("ONCLICK")
		return nil
	}))
	assert.Equal(t, `<a href="/x" class=btn>go</a>`, got)
}

func TestBindingsApplyInOrder(t *testing.T) {
	set := func(v string) func(*Element) error {
		return func(el *Element) error {
			el.SetAttr("src", v)
			return nil
		}
	}
	got := rewrite(t, `<script src="/app.js"></script>`, Options{},
		bind("script", "first", set("/one.js")),
		bind("script", "second", set("/two.js")),
	)
	assert.Equal(t, `<script src="/two.js"></script>`, got)
}

func TestMatchersSeeSourceAttributes(t *testing.T) {
	got := rewrite(t, `<link rel="preload" href="/a.css">`, Options{},
		bind(`link[rel="preload"]`, "swap", func(el *Element) error {
			el.SetAttr("rel", "stylesheet")
			return nil
		}),
		bind(`link[rel="preload"]`, "tag", func(el *Element) error {
			el.SetAttr("data-seen", "1")
			return nil
		}),
	)
	assert.Equal(t, `<link rel="stylesheet" href="/a.css" data-seen="1">`, got)
}

func TestRemoveDropsSubtree(t *testing.T) {
	var later int
	in := `<div><p class="ad">x<b>y</b><span>z</span></p><p>keep</p></div>`
	got := rewrite(t, in, Options{},
		bind("p.ad", "drop", func(el *Element) error {
			el.Remove()
			return nil
		}),
		bind("p.ad", "later", func(el *Element) error {
			later++
			return nil
		}),
		bind("span", "inner", func(el *Element) error {
			later++
			return nil
		}),
	)
	assert.Equal(t, `<div><p>keep</p></div>`, got)
	assert.Zero(t, later)
}

func TestReplaceFencesHTML(t *testing.T) {
	in := `<div id="old"><p>x</p></div><p>after</p>`
	got := rewrite(t, in, Options{FenceComment: "edge-rewrite"}, bind("#old", "swap", func(el *Element) error {
		el.Replace("<section>new</section>", true)
		return nil
	}))
	assert.Equal(t, `<!--edge-rewrite--><section>new</section><!--/edge-rewrite--><p>after</p>`, got)
}

func TestInsertPositions(t *testing.T) {
	in := `<main><h1>T</h1></main>`
	got := rewrite(t, in, Options{}, bind("main", "around", func(el *Element) error {
		el.Before("<nav>n</nav>", true)
		el.Prepend("<p>first</p>", true)
		el.Append("tail & more", false)
		el.After("<footer></footer>", true)
		el.Prepend("<p>second</p>", true)
		return nil
	}))
	assert.Equal(t, `<nav>n</nav><main><p>first</p><p>second</p><h1>T</h1>tail &amp; more</main><footer></footer>`, got)
}

func TestWrapInlineScript(t *testing.T) {
	in := `<script src="/a.js"></script><script>init();</script>`
	got := rewrite(t, in, Options{FenceComment: "edge-rewrite"}, bind("script:not([src])", "defer-inline", func(el *Element) error {
		el.Wrap(`document.addEventListener("DOMContentLoaded",function(){`, `});`)
		return nil
	}))
	assert.Equal(t, `<script src="/a.js"></script><script>document.addEventListener("DOMContentLoaded",function(){init();});</script>`, got)
}

func TestVoidAndSelfClosingElements(t *testing.T) {
	in := `<p>a<br>b<img src=x />c</p><svg><path d="M0"/></svg><span>x</span>`
	got := rewrite(t, in, Options{},
		bind("br", "br", func(el *Element) error {
			el.After("|", false)
			el.Append("ignored", false)
			return nil
		}),
		bind("p", "p", func(el *Element) error {
			el.Append("!", false)
			return nil
		}),
		bind("svg + span", "span", func(el *Element) error {
			el.Prepend("-", false)
			return nil
		}),
	)
	assert.Equal(t, `<p>a<br>|b<img src=x />c!</p><svg><path d="M0"/></svg><span>-x</span>`, got)
}

func TestImpliedEndTags(t *testing.T) {
	in := `<ul><li>one<li>two</ul><p>para<div>block</div>`
	got := rewrite(t, in, Options{},
		bind("li", "li", func(el *Element) error {
			el.Append("!", false)
			return nil
		}),
		bind("p", "p", func(el *Element) error {
			el.Append("?", false)
			return nil
		}),
	)
	assert.Equal(t, `<ul><li>one!<li>two!</ul><p>para?<div>block</div>`, got)
}

func TestStructuralSelectors(t *testing.T) {
	in := `<ul><li>a</li><li>b</li><li>c</li></ul><ol><li>d</li></ol>`
	got := rewrite(t, in, Options{}, bind("ul > li:nth-child(2)", "second", func(el *Element) error {
		el.SetAttr("class", "second")
		return nil
	}))
	assert.Equal(t, `<ul><li>a</li><li class="second">b</li><li>c</li></ul><ol><li>d</li></ol>`, got)
}

func TestScriptBodyIsNotMatched(t *testing.T) {
	in := `<script>var s = "<div class='x'></div>";</script><div class="x">y</div>`
	got := rewrite(t, in, Options{}, bind("div.x", "drop", func(el *Element) error {
		el.Remove()
		return nil
	}))
	assert.Equal(t, `<script>var s = "<div class='x'></div>";</script>`, got)
}

func TestRewriteIsIdempotent(t *testing.T) {
	opts := Options{MarkerAttribute: "data-edge-rewrite", FenceComment: "edge-rewrite"}
	bindings := []Binding{
		bind("head", "hints", func(el *Element) error {
			el.Append(`<link rel="preconnect" href="https://cdn.example.com">`, true)
			return nil
		}),
		bind(`link[rel="preconnect"]`, "drop-preconnect", func(el *Element) error {
			el.Remove()
			return nil
		}),
		bind("script[src]", "defer", func(el *Element) error {
			el.SetAttr("defer", "")
			return nil
		}),
	}
	in := `<html><head><title>x</title><script src="/a.js"></script></head><body></body></html>`

	once := rewrite(t, in, opts, bindings...)
	assert.Equal(t, `<html><head data-edge-rewrite="hints"><title>x</title><script src="/a.js" defer></script>`+
		`<!--edge-rewrite--><link rel="preconnect" href="https://cdn.example.com"><!--/edge-rewrite--></head><body></body></html>`, once)

	twice := rewrite(t, once, opts, bindings...)
	assert.Equal(t, once, twice)
}

func TestFailingRuleIsSkipped(t *testing.T) {
	rec := &recorder{}
	got := rewrite(t, `<p>x</p>`, Options{Observer: rec},
		bind("p", "broken", func(el *Element) error {
			el.SetAttr("half", "done")
			el.After("never", false)
			return errors.New("boom")
		}),
		bind("p", "panics", func(el *Element) error {
			el.Remove()
			panic("rule bug")
		}),
		bind("p", "ok", func(el *Element) error {
			el.SetAttr("class", "ok")
			return nil
		}),
	)
	assert.Equal(t, `<p class="ok">x</p>`, got)
	assert.Equal(t, []string{"broken", "panics"}, rec.failed)
	assert.Equal(t, []string{"ok"}, rec.applied)
}

func TestOversizedTokenSwitchesToPassthrough(t *testing.T) {
	rec := &recorder{}
	rest := `<div title="` + strings.Repeat("x", 200) + `">z</div><p>b</p>`
	got := rewrite(t, `<p>a</p>`+rest, Options{Observer: rec, MaxTokenBytes: 64},
		bind("p", "drop", func(el *Element) error {
			el.Remove()
			return nil
		}))
	assert.Equal(t, rest, got)
	assert.Equal(t, []string{PassthroughTokenTooLarge}, rec.passthrough)
}

func TestOversizedScriptBodyDropsWrap(t *testing.T) {
	rec := &recorder{}
	in := `<body><script>` + strings.Repeat("x;", 100) + `</script></body>`
	opts := Options{Observer: rec, MaxTokenBytes: 64, MarkerAttribute: "data-edge-rewrite", FenceComment: "edge-rewrite"}
	got := rewrite(t, in, opts, bind("script", "defer-inline", func(el *Element) error {
		el.Before("<i>b</i>", true)
		el.Wrap("PRE(", ")SUF")
		return nil
	}))
	assert.Equal(t, in, got)
	assert.Equal(t, []string{PassthroughTokenTooLarge}, rec.passthrough)

	small := `<body><script>x;</script></body>`
	got = rewrite(t, small, opts, bind("script", "defer-inline", func(el *Element) error {
		el.Wrap("PRE(", ")SUF")
		return nil
	}))
	assert.Equal(t, `<body><script data-edge-rewrite="defer-inline">PRE(x;)SUF</script></body>`, got)
}

func TestInsertIntoScriptIsNotFenced(t *testing.T) {
	in := `<script>init();</script>`
	got := rewrite(t, in, Options{FenceComment: "edge-rewrite"}, bind("script", "hook", func(el *Element) error {
		el.Prepend("window.ready=1;", true)
		el.Append("done();", true)
		el.Before("<meta name=a>", true)
		return nil
	}))
	assert.Equal(t, `<!--edge-rewrite--><meta name=a><!--/edge-rewrite--><script>window.ready=1;init();done();</script>`, got)
}

func TestOutputStreamsBeforeInputEnds(t *testing.T) {
	pr, pw := io.Pipe()
	release := make(chan struct{})
	go func() {
		_, _ = pw.Write([]byte(`<html><body><p>first</p>`))
		<-release
		_, _ = pw.Write([]byte(`<p>second</p></body></html>`))
		_ = pw.Close()
	}()

	r := NewReader(pr, []Binding{bind("p", "mark", func(el *Element) error {
		el.SetAttr("class", "seen")
		return nil
	})}, Options{})

	first := make(chan string, 1)
	go func() {
		var sb strings.Builder
		buf := make([]byte, 64)
		for !strings.Contains(sb.String(), "first</p>") {
			n, err := r.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
		first <- sb.String()
	}()

	var head string
	select {
	case head = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("no output before the origin finished")
	}
	assert.Equal(t, `<html><body><p class="seen">first</p>`, head)

	close(release)
	tail, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, `<p class="seen">second</p></body></html>`, string(tail))
}

func TestReadAfterClose(t *testing.T) {
	src := &trackingCloser{Reader: strings.NewReader("<p>x</p>")}
	r := NewReader(src, nil, Options{})

	require.NoError(t, r.Close())
	assert.True(t, src.closed)

	_, err := r.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrClosed)
}
