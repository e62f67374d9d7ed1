// Package layout defines the format of heap cells. Every cell starts with a header word holding its size and tag:
//
//	| size (bytes) ... | soft | weak | tag (2 bits) |
//	 63             4    3      2      1          0
//
// Objects carry a reference map in their second word: bit i set means payload word i holds a reference. Weak and
// soft reference objects keep their referent in payload word 0. Dead cells are fillers keeping the heap walkable,
// free cells are chunks of a free list and keep the next chunk in their second word. A forwarded object's header
// holds the address of its copy instead of a size.
package layout

import (
	"fmt"

	"maxvm/src/heap/memory"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Tag identifies the kind of a heap cell.
type Tag uint64

// Flags mark objects needing special treatment by the collectors.
type Flags uint64

// ---------------------
// ----- Constants -----
// ---------------------

const (
	TagObject Tag = iota
	TagDead
	TagFree
	TagForward
)

const (
	Weak Flags = 1 << 2
	Soft Flags = 1 << 3
)

const (
	WordSize      = memory.WordSize
	HeaderSize    = 2 * WordSize // Header and reference map.
	MinObjectSize = 2 * WordSize // Smallest object, and smallest free chunk.
	MaxRefWords   = 64           // Payload words covered by the reference map.

	tagMask   = 3
	flagMask  = uint64(Weak | Soft)
	sizeShift = 4
)

var tagNames = [...]string{"object", "dead", "free", "forward"}

// ---------------------
// ----- Functions -----
// ---------------------

func (t Tag) String() string {
	return tagNames[t&tagMask]
}

// AlignSize rounds size up to whole words, and to at least the minimum object size.
func AlignSize(size int) int {
	size = memory.AlignUp(size, WordSize)
	if size < MinObjectSize {
		return MinObjectSize
	}
	return size
}

// Header encodes a header word.
func Header(size int, tag Tag, flags Flags) uint64 {
	return uint64(size)<<sizeShift | uint64(flags)&flagMask | uint64(tag)
}

// TagOf returns the tag of header h.
func TagOf(h uint64) Tag {
	return Tag(h & tagMask)
}

// SizeOf returns the size in bytes of the cell with header h. Forwarded headers have no size.
func SizeOf(h uint64) int {
	return int(h >> sizeShift)
}

// FlagsOf returns the flags of header h.
func FlagsOf(h uint64) Flags {
	return Flags(h & flagMask)
}

// Forwarding returns the header word forwarding an object to its copy at to.
func Forwarding(to memory.Address) uint64 {
	return uint64(to) | uint64(TagForward)
}

// ForwardedTo returns the address of the copy if h is a forwarding header.
func ForwardedTo(h uint64) (memory.Address, bool) {
	if TagOf(h) != TagForward {
		return 0, false
	}
	return memory.Address(h &^ tagMask), true
}

// CellSize returns the size of the cell at a, following the forwarding pointer of a moved object.
func CellSize(r *memory.Region, a memory.Address) int {
	h := r.Word(a)
	if to, ok := ForwardedTo(h); ok {
		h = r.Word(to)
	}
	return SizeOf(h)
}

// WriteObject formats an object of size bytes at a with reference map refs and clears its payload.
func WriteObject(r *memory.Region, a memory.Address, size int, refs uint64, flags Flags) {
	util.Check(size >= MinObjectSize && size%WordSize == 0, "bad object size %d at %s", size, a)
	r.Zero(a.Plus(HeaderSize), size-HeaderSize)
	words := (size - HeaderSize) / WordSize
	if words < MaxRefWords {
		refs &= 1<<uint(words) - 1
	}
	r.SetWord(a.Plus(WordSize), refs)
	r.SetWord(a, Header(size, TagObject, flags))
}

// FillDead writes a dead filler of size bytes at a. Fillers may be a single word.
func FillDead(r *memory.Region, a memory.Address, size int) {
	util.Check(size >= WordSize && size%WordSize == 0, "bad filler size %d at %s", size, a)
	r.SetWord(a, Header(size, TagDead, 0))
}

// WriteFree formats a free chunk of size bytes at a linked to next.
func WriteFree(r *memory.Region, a memory.Address, size int, next memory.Address) {
	util.Check(size >= MinObjectSize && size%WordSize == 0, "bad free chunk size %d at %s", size, a)
	r.SetWord(a, Header(size, TagFree, 0))
	r.SetRef(a.Plus(WordSize), next)
}

// NextFree returns the chunk following free chunk a.
func NextFree(r *memory.Region, a memory.Address) memory.Address {
	return r.Ref(a.Plus(WordSize))
}

// SetNextFree links free chunk a to next.
func SetNextFree(r *memory.Region, a, next memory.Address) {
	r.SetRef(a.Plus(WordSize), next)
}

// RefMap returns the reference map of object a.
func RefMap(r *memory.Region, a memory.Address) uint64 {
	return r.Word(a.Plus(WordSize))
}

// Slot returns the address of payload word i of object a.
func Slot(a memory.Address, i int) memory.Address {
	return a.Plus(HeaderSize + i*WordSize)
}

// Referent returns the address of the referent slot of a weak or soft reference object.
func Referent(a memory.Address) memory.Address {
	return Slot(a, 0)
}

// ForEachRef calls fn with the address of every reference slot of object a. The referent slot of a reference
// object is skipped when skipReferent is set.
func ForEachRef(r *memory.Region, a memory.Address, skipReferent bool, fn func(slot memory.Address)) {
	refs := RefMap(r, a)
	if skipReferent {
		refs &^= 1
	}
	for i1 := 0; refs != 0; i1++ {
		if refs&1 != 0 {
			fn(Slot(a, i1))
		}
		refs >>= 1
	}
}

// Walk visits every cell in [start, end) in address order. Walking stops early if fn returns false. A cell that
// does not fit the range, or has no size, is fatal: the heap is not parsable.
func Walk(r *memory.Region, start, end memory.Address, fn func(a memory.Address, h uint64) bool) {
	for a := start; a < end; {
		h := r.Word(a)
		size := SizeOf(h)
		if TagOf(h) == TagForward {
			size = CellSize(r, a)
		}
		if size < WordSize || a.Plus(size) > end {
			util.Fatalf("heap not parsable at %s: %s cell of size %d, range ends at %s", a, TagOf(h), size, end)
		}
		if !fn(a, h) {
			return
		}
		a = a.Plus(size)
	}
}

// Describe returns a short description of the cell at a, for diagnostics.
func Describe(r *memory.Region, a memory.Address) string {
	h := r.Word(a)
	if to, ok := ForwardedTo(h); ok {
		return fmt.Sprintf("%s forwarded to %s", a, to)
	}
	return fmt.Sprintf("%s %s of %d bytes", a, TagOf(h), SizeOf(h))
}
