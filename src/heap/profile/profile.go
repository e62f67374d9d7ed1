// Package profile writes pprof heap profiles. Objects are grouped by shape, that is kind, size and number of
// reference fields, and every shape becomes a single frame stack so that pprof can rank them.
package profile

import (
	"fmt"
	"io"
	"math/bits"
	"sort"
	"time"

	"github.com/google/pprof/profile"

	"maxvm/src/heap"
	"maxvm/src/heap/layout"
)

// Shape is the class of an object in the profile.
type Shape struct {
	Kind string // object, weak or soft.
	Size int
	Refs int
}

// Entry counts the objects of one shape.
type Entry struct {
	Shape
	Objects int64
	Bytes   int64
}

func (s Shape) String() string {
	return fmt.Sprintf("%s[size=%d,refs=%d]", s.Kind, s.Size, s.Refs)
}

func kind(f layout.Flags) string {
	switch {
	case f&layout.Weak != 0:
		return "weak"
	case f&layout.Soft != 0:
		return "soft"
	}
	return "object"
}

// Census walks the heap with the world stopped and returns the objects found per shape, largest first. Collect
// before taking a census of the live heap.
func Census(s heap.Scheme) []Entry {
	sp := s.Safepoints()
	sp.StopTheWorld()
	defer sp.ResumeTheWorld()
	sp.RetireTLABs(s.Region())

	shapes := make(map[Shape]*Entry)
	s.Walk(func(a heap.Address, h uint64) bool {
		if layout.TagOf(h) != layout.TagObject {
			return true
		}
		sh := Shape{
			Kind: kind(layout.FlagsOf(h)),
			Size: layout.SizeOf(h),
			Refs: bits.OnesCount64(layout.RefMap(s.Region(), a)),
		}
		e, ok := shapes[sh]
		if !ok {
			e = &Entry{Shape: sh}
			shapes[sh] = e
		}
		e.Objects++
		e.Bytes += int64(sh.Size)
		return true
	})

	entries := make([]Entry, 0, len(shapes))
	for _, e1 := range shapes {
		entries = append(entries, *e1)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Bytes != entries[j].Bytes {
			return entries[i].Bytes > entries[j].Bytes
		}
		return entries[i].Shape.String() < entries[j].Shape.String()
	})
	return entries
}

// Build returns the profile of the census entries.
func Build(scheme string, entries []Entry) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "objects", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		DefaultSampleType: "space",
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:            1,
		TimeNanos:         time.Now().UnixNano(),
		Comments:          []string{"heap scheme " + scheme},
	}
	for i1, e1 := range entries {
		id := uint64(i1 + 1)
		fn := &profile.Function{
			ID:         id,
			Name:       e1.Shape.String(),
			SystemName: e1.Kind,
			Filename:   scheme,
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn, Line: int64(e1.Size)}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{e1.Objects, e1.Bytes},
			Label:    map[string][]string{"kind": {e1.Kind}},
			NumLabel: map[string][]int64{"bytes": {int64(e1.Size)}, "refs": {int64(e1.Refs)}},
			NumUnit:  map[string][]string{"bytes": {"bytes"}, "refs": {"count"}},
		})
	}
	return p
}

// Write writes the gzipped heap profile of s to w.
func Write(w io.Writer, s heap.Scheme) error {
	p := Build(s.Stats().Scheme, Census(s))
	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}
