package htmlstream

import (
	"errors"
	"io"

	"golang.org/x/net/html"
)

type Kind int

const (
	StartTag Kind = iota
	EndTag
	Text
	Comment
	Doctype
)

func (k Kind) String() string {
	switch k {
	case StartTag:
		return "start"
	case EndTag:
		return "end"
	case Text:
		return "text"
	case Comment:
		return "comment"
	case Doctype:
		return "doctype"
	default:
		return "unknown"
	}
}

// Attribute is one attribute of a start tag. Name is lowercased and Value
// unescaped; raw keeps the source bytes including leading whitespace.
type Attribute struct {
	Name  string
	Value string

	raw []byte
}

// Event is one structurally recognized unit of the document. Raw always holds
// the exact source bytes of the unit.
type Event struct {
	Kind        Kind
	Name        string
	Attrs       []Attribute
	SelfClosing bool
	Raw         []byte

	tag *tagLayout
}

// ErrTokenTooLarge is returned by Scanner.Next once a single token grew past
// the configured limit. Bytes read up to that point have been returned as a
// Text event.
var ErrTokenTooLarge = errors.New("token exceeds buffer limit")

// Scanner turns a byte stream into Events without holding more than the
// current token in memory.
type Scanner struct {
	z   *html.Tokenizer
	err error
}

func NewScanner(r io.Reader, maxTokenBytes int) *Scanner {
	z := html.NewTokenizer(r)
	if maxTokenBytes > 0 {
		z.SetMaxBuf(maxTokenBytes)
	}
	return &Scanner{z: z}
}

// Next returns the next event. Bytes the tokenizer could not classify, such
// as a tag cut off by the end of input, come back as a Text event before the
// error is reported.
func (s *Scanner) Next() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}

	tt := s.z.Next()
	raw := clone(s.z.Raw())

	switch tt {
	case html.ErrorToken:
		s.err = s.z.Err()
		if errors.Is(s.err, html.ErrBufferExceeded) {
			s.err = ErrTokenTooLarge
		}
		tail := append(raw, s.z.Buffered()...)
		if len(tail) > 0 {
			return Event{Kind: Text, Raw: tail}, nil
		}
		return Event{}, s.err
	case html.TextToken:
		return Event{Kind: Text, Raw: raw}, nil
	case html.StartTagToken, html.SelfClosingTagToken:
		name, _ := s.z.TagName()
		layout := parseTag(raw)
		return Event{
			Kind:        StartTag,
			Name:        string(name),
			Attrs:       layout.attrs,
			SelfClosing: tt == html.SelfClosingTagToken,
			Raw:         raw,
			tag:         layout,
		}, nil
	case html.EndTagToken:
		name, _ := s.z.TagName()
		return Event{Kind: EndTag, Name: string(name), Raw: raw}, nil
	case html.CommentToken:
		return Event{Kind: Comment, Raw: raw}, nil
	case html.DoctypeToken:
		return Event{Kind: Doctype, Raw: raw}, nil
	default:
		return Event{Kind: Text, Raw: raw}, nil
	}
}

// Err returns the error that ends the stream once the scanner has seen it,
// which can be one Text event before Next reports it.
func (s *Scanner) Err() error { return s.err }

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
