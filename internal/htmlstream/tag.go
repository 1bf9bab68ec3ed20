package htmlstream

import (
	"bytes"
	"html"
	"strings"
)

// tagLayout splits a raw start tag into the parts needed to rewrite single
// attributes without touching the bytes of the others.
type tagLayout struct {
	head  []byte // "<name"
	attrs []Attribute
	tail  []byte // whatever follows the last attribute, ends with '>'
}

func parseTag(raw []byte) *tagLayout {
	t := &tagLayout{}
	if len(raw) < 2 || raw[0] != '<' {
		t.head = raw
		return t
	}

	i := 1
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' {
		i++
	}
	t.head = raw[:i]

	for i < len(raw) {
		start := i
		j := i
		for j < len(raw) && (isSpace(raw[j]) || raw[j] == '/') {
			j++
		}
		if j >= len(raw) || raw[j] == '>' {
			t.tail = raw[start:]
			return t
		}

		// A leading '=' belongs to the name.
		k := j + 1
		for k < len(raw) && !isSpace(raw[k]) && raw[k] != '/' && raw[k] != '>' && raw[k] != '=' {
			k++
		}
		name := raw[j:k]

		end := k
		var value []byte
		m := k
		for m < len(raw) && isSpace(raw[m]) {
			m++
		}
		if m < len(raw) && raw[m] == '=' {
			m++
			for m < len(raw) && isSpace(raw[m]) {
				m++
			}
			switch {
			case m < len(raw) && (raw[m] == '"' || raw[m] == '\''):
				q := raw[m]
				closing := bytes.IndexByte(raw[m+1:], q)
				if closing < 0 {
					value = raw[m+1 : len(raw)-1]
					end = len(raw) - 1
				} else {
					value = raw[m+1 : m+1+closing]
					end = m + 2 + closing
				}
			default:
				v := m
				for v < len(raw) && !isSpace(raw[v]) && raw[v] != '>' {
					v++
				}
				value = raw[m:v]
				end = v
			}
		}

		t.attrs = append(t.attrs, Attribute{
			Name:  strings.ToLower(string(name)),
			Value: html.UnescapeString(string(value)),
			raw:   raw[start:end],
		})
		i = end
	}

	return t
}

// leading returns the whitespace (and stray slashes) in front of the
// attribute name.
func (a Attribute) leading() []byte {
	for i, c := range a.raw {
		if !isSpace(c) && c != '/' {
			return a.raw[:i]
		}
	}
	return a.raw
}

func writeAttr(b *bytes.Buffer, lead []byte, name, value string) {
	if len(lead) == 0 {
		lead = []byte{' '}
	}
	b.Write(lead)
	b.WriteString(name)
	if value == "" {
		return
	}
	b.WriteString(`="`)
	b.WriteString(html.EscapeString(value))
	b.WriteByte('"')
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}
