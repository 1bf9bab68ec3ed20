package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Transform maps an old attribute value to a new one.
type Transform interface {
	Rewrite(value string) string
	String() string
}

// LiteralTransform replaces every occurrence of one string with another.
type LiteralTransform struct {
	from string
	to   string
}

func NewLiteralTransform(from, to string) *LiteralTransform {
	return &LiteralTransform{from: from, to: to}
}

func (t *LiteralTransform) Rewrite(value string) string {
	return strings.ReplaceAll(value, t.from, t.to)
}

func (t *LiteralTransform) String() string {
	return fmt.Sprintf("%q -> %q", t.from, t.to)
}

// RegexTransform replaces every match of a pattern. The replacement may
// refer to groups as $1 or ${name}.
type RegexTransform struct {
	re          *regexp.Regexp
	replacement string
}

func NewRegexTransform(pattern, replacement string) (*RegexTransform, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexTransform{re: re, replacement: replacement}, nil
}

func (t *RegexTransform) Rewrite(value string) string {
	return t.re.ReplaceAllString(value, t.replacement)
}

func (t *RegexTransform) String() string {
	return fmt.Sprintf("/%s/ -> %q", t.re.String(), t.replacement)
}
