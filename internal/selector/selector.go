// Package selector compiles CSS selectors for use against a document that is
// being walked front to back.
//
// A node handed to Match only has its open ancestors and the element
// siblings that precede it attached. Pseudo-classes that look at following
// siblings, descendants or text would silently give wrong answers on such a
// node, so Compile rejects them.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var ErrNotStreamable = errors.New("selector is not supported while streaming")

var unstreamable = map[string]struct{}{
	"last-child":       {},
	"last-of-type":     {},
	"only-child":       {},
	"only-of-type":     {},
	"nth-last-child":   {},
	"nth-last-of-type": {},
	"empty":            {},
	"has":              {},
	"haschild":         {},
	"contains":         {},
	"containsown":      {},
	"matches":          {},
	"matchesown":       {},
}

type Selector struct {
	expr  string
	match cascadia.Selector
}

func Compile(expr string) (*Selector, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("selector is empty")
	}

	for _, name := range pseudoClasses(expr) {
		if _, bad := unstreamable[name]; bad {
			return nil, fmt.Errorf("%w: :%s", ErrNotStreamable, name)
		}
	}

	compiled, err := cascadia.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", expr, err)
	}
	return &Selector{expr: expr, match: compiled}, nil
}

func MustCompile(expr string) *Selector {
	s, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Selector) Match(n *html.Node) bool {
	if s == nil || n == nil || n.Type != html.ElementNode {
		return false
	}
	return s.match.Match(n)
}

func (s *Selector) String() string {
	return s.expr
}

// pseudoClasses lists the lowercased pseudo-class names in expr, ignoring
// anything inside quotes or attribute brackets.
func pseudoClasses(expr string) []string {
	var out []string
	var quote byte
	brackets := 0

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			brackets++
		case c == ']':
			if brackets > 0 {
				brackets--
			}
		case c == ':' && brackets == 0:
			j := i + 1
			for j < len(expr) && expr[j] == ':' {
				j++
			}
			k := j
			for k < len(expr) && isIdentByte(expr[k]) {
				k++
			}
			if k > j {
				out = append(out, strings.ToLower(expr[j:k]))
			}
			i = k - 1
		}
	}
	return out
}

func isIdentByte(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
