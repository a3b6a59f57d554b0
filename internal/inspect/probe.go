// Package inspect inventories a changeset dump without converting it: which
// attributes appear, which <tag k=...> keys are used, how often, and which
// of them the projector keeps. It is tolerant to truncated inputs (e.g. the
// first N bytes of a large file); only fully closed changesets are counted.
package inspect

import (
	"context"
	"errors"
	"io"
	"sort"

	"changesets/internal/changeset"
	perr "changesets/internal/errors"
	xmlparser "changesets/internal/parser/xml"
)

// Options bounds a probe.
type Options struct {
	// Limit stops after this many changesets; 0 means no limit.
	Limit int64

	// MaxExamples caps distinct example values kept per key. Default 3.
	MaxExamples int

	// Strict makes parse and read errors fatal instead of ending the probe.
	Strict bool
}

// KeyStat aggregates one <tag> key.
type KeyStat struct {
	Key          string   `json:"key"`
	Count        int64    `json:"count"`
	RecordsWith  int64    `json:"records_with"`
	MaxPerRecord int      `json:"max_per_record"`
	Projected    bool     `json:"projected"`
	Examples     []string `json:"examples,omitempty"`
}

// Report is the probe result.
type Report struct {
	RecordTag  string           `json:"record_tag"`
	Records    int64            `json:"records"`
	Skipped    int64            `json:"skipped_elements"`
	Truncated  bool             `json:"truncated"`
	StopReason string           `json:"stop_reason,omitempty"`
	Attributes map[string]int64 `json:"attributes"`
	Keys       []KeyStat        `json:"keys"`
}

// Probe scans r for changeset elements and inventories their tags.
func Probe(ctx context.Context, r io.Reader, opt Options) (Report, error) {
	if opt.MaxExamples <= 0 {
		opt.MaxExamples = 3
	}
	rep := Report{RecordTag: changeset.Tag, Attributes: map[string]int64{}}
	keys := map[string]*KeyStat{}
	perRec := map[string]int{}

	dec := xmlparser.NewDecoder(r, changeset.Tag)
	for opt.Limit <= 0 || rep.Records < opt.Limit {
		if err := ctx.Err(); err != nil {
			return rep, perr.Wrap(err, perr.KindInterrupted, "probe")
		}
		el, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if opt.Strict || rep.Records == 0 {
				return rep, err
			}
			rep.Truncated = true
			rep.StopReason = err.Error()
			break
		}

		rep.Records++
		for _, a := range el.Attrs {
			rep.Attributes[a.Name]++
		}
		clear(perRec)
		el.Each("tag", func(t *xmlparser.Element) {
			k, ok := t.Attr("k")
			if !ok {
				return
			}
			ks := keys[k]
			if ks == nil {
				ks = &KeyStat{Key: k, Projected: changeset.IsProjected(k)}
				keys[k] = ks
			}
			ks.Count++
			perRec[k]++
			if v, _ := t.Attr("v"); v != "" {
				ks.Examples = addExample(ks.Examples, v, opt.MaxExamples)
			}
		})
		for k, n := range perRec {
			ks := keys[k]
			ks.RecordsWith++
			if n > ks.MaxPerRecord {
				ks.MaxPerRecord = n
			}
		}
		dec.Release(el)
	}

	rep.Skipped = dec.Skipped()
	rep.Keys = make([]KeyStat, 0, len(keys))
	for _, ks := range keys {
		rep.Keys = append(rep.Keys, *ks)
	}
	sort.Slice(rep.Keys, func(i, j int) bool {
		if rep.Keys[i].Count != rep.Keys[j].Count {
			return rep.Keys[i].Count > rep.Keys[j].Count
		}
		return rep.Keys[i].Key < rep.Keys[j].Key
	})
	return rep, nil
}

// Unprojected returns the keys the projector drops, most frequent first.
func (r Report) Unprojected() []string {
	var out []string
	for _, k := range r.Keys {
		if !k.Projected {
			out = append(out, k.Key)
		}
	}
	return out
}

func addExample(arr []string, val string, capN int) []string {
	for _, x := range arr {
		if x == val {
			return arr
		}
	}
	if len(arr) < capN {
		return append(arr, val)
	}
	return arr
}
