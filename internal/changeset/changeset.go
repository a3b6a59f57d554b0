// Package changeset projects <changeset> elements into flat records with a
// fixed column set.
package changeset

import (
	xmlparser "changesets/internal/parser/xml"
	"changesets/internal/schema"
)

// Tag is the element name of one changeset in the dump.
const Tag = "changeset"

// tagChild is the key/value child element carrying optional fields.
const tagChild = "tag"

// Required holds the attribute-backed fields, in output order.
var Required = []string{
	"id", "created_at", "uid", "user", "num_changes",
	"min_lat", "min_lon", "max_lat", "max_lon",
}

// Optional holds the tag-backed fields, in output order.
var Optional = []string{
	"created_by", "imagery_used", "host", "changesets_count", "hashtags",
}

// NumFields is the fixed width of every record.
const NumFields = 14

var outputSchema = func() *schema.Schema {
	fields := make([]schema.Field, 0, NumFields)
	for _, n := range Required {
		fields = append(fields, schema.Field{Name: n, Type: schema.TypeString, Nullable: true})
	}
	for _, n := range Optional {
		fields = append(fields, schema.Field{Name: n, Type: schema.TypeString})
	}
	return schema.New(fields...)
}()

// optionalIndex maps a recognised tag key to its slot in Record.Opt.
var optionalIndex = func() map[string]int {
	m := make(map[string]int, len(Optional))
	for i, k := range Optional {
		m[k] = i
	}
	return m
}()

// Schema is the output schema shared by every Record.
func Schema() *schema.Schema { return outputSchema }

// IsProjected reports whether a tag key maps to an output column.
func IsProjected(key string) bool {
	_, ok := optionalIndex[key]
	return ok
}

// Record is one projected changeset. Req entries are nil when the attribute
// was absent; Opt entries default to "".
type Record struct {
	Req [9]*string
	Opt [5]string
}

// Project copies the required attributes verbatim and fills the optional
// fields from immediate <tag k=".." v=".."/> children. Unknown keys are
// ignored, the last occurrence of a repeated key wins, and a recognised key
// without a v attribute yields "". No value is parsed or validated.
func Project(el *xmlparser.Element) Record {
	var r Record
	for i, name := range Required {
		if v, ok := el.Attr(name); ok {
			v := v
			r.Req[i] = &v
		}
	}
	for _, c := range el.Children {
		if c.Tag != tagChild {
			continue
		}
		k, _ := c.Attr("k")
		i, ok := optionalIndex[k]
		if !ok {
			continue
		}
		v, _ := c.Attr("v")
		r.Opt[i] = v
	}
	return r
}

// Schema implements storage.Row.
func (r Record) Schema() *schema.Schema { return outputSchema }

// Values returns the 14 values in schema order: a string, or nil for an
// absent required attribute.
func (r Record) Values() []any {
	out := make([]any, NumFields)
	for i, p := range r.Req {
		if p != nil {
			out[i] = *p
		}
	}
	for i, v := range r.Opt {
		out[len(r.Req)+i] = v
	}
	return out
}

// Get returns the value of a named field and whether it is present.
func (r Record) Get(name string) (string, bool) {
	if i, ok := optionalIndex[name]; ok {
		return r.Opt[i], true
	}
	for i, n := range Required {
		if n == name {
			if r.Req[i] == nil {
				return "", false
			}
			return *r.Req[i], true
		}
	}
	return "", false
}
