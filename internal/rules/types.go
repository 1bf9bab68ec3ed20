package rules

import (
	"fmt"

	"github.com/klyr/edgerewrite/internal/htmlstream"
)

type Position string

const (
	PositionBefore  Position = "before"
	PositionAfter   Position = "after"
	PositionPrepend Position = "prepend"
	PositionAppend  Position = "append"
)

// Remove drops the matched element and its subtree.
type Remove struct {
	id string
}

func NewRemove(id string) *Remove { return &Remove{id: id} }

func (r *Remove) ID() string { return r.id }

func (r *Remove) Apply(el *htmlstream.Element) error {
	el.Remove()
	return nil
}

// Replace emits content in place of the matched element and its subtree.
type Replace struct {
	id      string
	content string
	html    bool
}

func NewReplace(id, content string, html bool) *Replace {
	return &Replace{id: id, content: content, html: html}
}

func (r *Replace) ID() string { return r.id }

func (r *Replace) Apply(el *htmlstream.Element) error {
	el.Replace(r.content, r.html)
	return nil
}

// SetAttribute creates or overwrites an attribute. An empty value writes a
// bare boolean attribute such as defer.
type SetAttribute struct {
	id    string
	name  string
	value string
}

func NewSetAttribute(id, name, value string) *SetAttribute {
	return &SetAttribute{id: id, name: name, value: value}
}

func (r *SetAttribute) ID() string { return r.id }

func (r *SetAttribute) Apply(el *htmlstream.Element) error {
	el.SetAttr(r.name, r.value)
	return nil
}

// AttributeRewrite passes an existing attribute value through a Transform.
// Elements without the attribute are left alone.
type AttributeRewrite struct {
	id        string
	name      string
	transform Transform
}

func NewAttributeRewrite(id, name string, t Transform) *AttributeRewrite {
	return &AttributeRewrite{id: id, name: name, transform: t}
}

func (r *AttributeRewrite) ID() string { return r.id }

func (r *AttributeRewrite) Apply(el *htmlstream.Element) error {
	old, ok := el.Attr(r.name)
	if !ok {
		return nil
	}
	el.SetAttr(r.name, r.transform.Rewrite(old))
	return nil
}

type RemoveAttribute struct {
	id   string
	name string
}

func NewRemoveAttribute(id, name string) *RemoveAttribute {
	return &RemoveAttribute{id: id, name: name}
}

func (r *RemoveAttribute) ID() string { return r.id }

func (r *RemoveAttribute) Apply(el *htmlstream.Element) error {
	el.RemoveAttr(r.name)
	return nil
}

// Insert adds content once per matched element at a fixed position.
type Insert struct {
	id       string
	position Position
	content  string
	html     bool
}

func NewInsert(id string, pos Position, content string, html bool) *Insert {
	return &Insert{id: id, position: pos, content: content, html: html}
}

func (r *Insert) ID() string { return r.id }

func (r *Insert) Apply(el *htmlstream.Element) error {
	switch r.position {
	case PositionBefore:
		el.Before(r.content, r.html)
	case PositionAfter:
		el.After(r.content, r.html)
	case PositionPrepend:
		el.Prepend(r.content, r.html)
	case PositionAppend:
		el.Append(r.content, r.html)
	default:
		return fmt.Errorf("unknown insert position %q", r.position)
	}
	return nil
}

// Wrap surrounds the content of the matched element with raw text, for
// example to defer an inline script until DOMContentLoaded.
type Wrap struct {
	id     string
	prefix string
	suffix string
}

func NewWrap(id, prefix, suffix string) *Wrap {
	return &Wrap{id: id, prefix: prefix, suffix: suffix}
}

func (r *Wrap) ID() string { return r.id }

func (r *Wrap) Apply(el *htmlstream.Element) error {
	el.Wrap(r.prefix, r.suffix)
	return nil
}
