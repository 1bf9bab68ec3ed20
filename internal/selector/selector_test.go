package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func element(parent *html.Node, tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	parent.AppendChild(n)
	return n
}

func TestSelectorAttributePredicates(t *testing.T) {
	doc := &html.Node{Type: html.DocumentNode}
	root := element(doc, "html")
	body := element(root, "body")
	script := element(body, "script", "src", "/js/script-to-be-deferred.js")
	link := element(body, "link", "rel", "preload", "href", "/assets/main.css")

	cases := []struct {
		expr string
		node *html.Node
		want bool
	}{
		{"script[src*='script-to-be-deferred.js']", script, true},
		{"script[src*='other.js']", script, false},
		{"body > script[src]", script, true},
		{"head > script[src]", script, false},
		{"body > script:not([src])", script, false},
		{"link[rel='preload']", link, true},
		{"link[href^='/assets/'][href$='.css']", link, true},
		{"link[href^='/static/']", link, false},
		{"html link", link, true},
		{"script + link", link, true},
	}

	for _, tc := range cases {
		sel, err := Compile(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, sel.Match(tc.node), tc.expr)
	}
}

func TestSelectorNthOfTypeSeesOnlyPrecedingSiblings(t *testing.T) {
	doc := &html.Node{Type: html.DocumentNode}
	head := element(element(doc, "html"), "head")
	element(head, "meta", "charset", "utf-8")
	element(head, "title")
	element(head, "meta", "name", "viewport")
	third := element(head, "meta", "name", "description")

	sel := MustCompile("head > meta:nth-of-type(3)")
	assert.True(t, sel.Match(third))
	assert.False(t, sel.Match(head.FirstChild))
}

func TestCompileRejectsUnstreamable(t *testing.T) {
	for _, expr := range []string{
		"li:last-child",
		"p:only-of-type",
		"div:has(p)",
		"ul > li:not(:nth-last-child(2))",
		"p:empty",
	} {
		_, err := Compile(expr)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrNotStreamable), expr)
	}
}

func TestCompileIgnoresColonsInAttributeValues(t *testing.T) {
	sel, err := Compile(`a[href^="https://cdn.example.com/:last-child"]`)
	require.NoError(t, err)
	assert.Equal(t, `a[href^="https://cdn.example.com/:last-child"]`, sel.String())
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("")
	require.Error(t, err)

	_, err = Compile("div[")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotStreamable))
}

func TestMatchIgnoresNonElements(t *testing.T) {
	sel := MustCompile("*")
	assert.False(t, sel.Match(&html.Node{Type: html.TextNode, Data: "x"}))
	assert.False(t, sel.Match(nil))
}
