package xmlparser

// Attr is one attribute of an element, in document order.
type Attr struct {
	Name  string
	Value string
}

// Element is a materialised subtree: its tag, attributes in document order
// and child elements. Text content is not retained.
//
// Elements are owned by the Decoder that produced them and are only valid
// until handed back with Decoder.Release.
type Element struct {
	Tag      string
	Attrs    []Attr
	Children []*Element
}

// Attr returns the value of the named attribute. When an attribute repeats,
// the first occurrence wins, matching encoding/xml's unmarshalling.
func (e *Element) Attr(name string) (string, bool) {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			return e.Attrs[i].Value, true
		}
	}
	return "", false
}

// Each calls fn for every immediate child whose tag is tag.
func (e *Element) Each(tag string, fn func(*Element)) {
	for _, c := range e.Children {
		if c.Tag == tag {
			fn(c)
		}
	}
}

func (e *Element) reset() {
	e.Tag = ""
	for i := range e.Attrs {
		e.Attrs[i] = Attr{}
	}
	e.Attrs = e.Attrs[:0]
	for i := range e.Children {
		e.Children[i] = nil
	}
	e.Children = e.Children[:0]
}
