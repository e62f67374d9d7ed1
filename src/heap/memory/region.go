// Package memory manages the virtual address range backing a heap. The range is reserved once at its maximum size
// and committed or uncommitted in whole pages as the heap grows and shrinks. Addresses handed out by a Region are
// real virtual addresses, and words are accessed in place.
package memory

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Address is a virtual address inside a reserved Region. The zero Address is the null reference.
type Address uintptr

// Region is a reserved range of virtual memory of which a prefix is committed.
type Region struct {
	mem       []byte  // Reserved range.
	base      Address // Address of mem[0].
	committed int     // Committed prefix in bytes, a multiple of the page size.
}

// ---------------------
// ----- Constants -----
// ---------------------

// WordSize is the size of a heap word in bytes.
const WordSize = 8

// ---------------------
// ----- Functions -----
// ---------------------

// Plus returns the address n bytes above a.
func (a Address) Plus(n int) Address {
	return a + Address(n)
}

// Minus returns the distance in bytes from b up to a.
func (a Address) Minus(b Address) int {
	return int(a - b)
}

// IsZero returns true for the null reference.
func (a Address) IsZero() bool {
	return a == 0
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Reserve reserves size bytes of address space, rounded up to whole pages. Nothing is committed.
func Reserve(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cannot reserve %d bytes", size)
	}
	size = AlignUp(size, PageSize())
	mem, err := reserve(size)
	if err != nil {
		return nil, fmt.Errorf("could not reserve %d bytes of address space: %w", size, err)
	}
	return &Region{
		mem:  mem,
		base: Address(unsafe.Pointer(&mem[0])),
	}, nil
}

// Start returns the lowest address of the region.
func (r *Region) Start() Address { return r.base }

// End returns the address just past the reserved range.
func (r *Region) End() Address { return r.base.Plus(len(r.mem)) }

// Size returns the number of reserved bytes.
func (r *Region) Size() int { return len(r.mem) }

// Committed returns the number of committed bytes.
func (r *Region) Committed() int { return r.committed }

// CommittedEnd returns the address just past the committed prefix.
func (r *Region) CommittedEnd() Address { return r.base.Plus(r.committed) }

// Contains returns true if a lies in the committed prefix.
func (r *Region) Contains(a Address) bool {
	return a >= r.base && a < r.CommittedEnd()
}

// Commit makes the first n bytes of the region accessible, rounded up to whole pages. Committing less than what is
// already committed is a no-op.
func (r *Region) Commit(n int) error {
	n = AlignUp(n, PageSize())
	if n > len(r.mem) {
		return fmt.Errorf("cannot commit %d bytes of a %d byte region", n, len(r.mem))
	}
	if n <= r.committed {
		return nil
	}
	if err := commit(r.mem[r.committed:n]); err != nil {
		return fmt.Errorf("could not commit %d bytes: %w", n-r.committed, err)
	}
	r.committed = n
	return nil
}

// Uncommit releases the pages above the first n bytes, rounded up to whole pages, back to the operating system.
// Their contents are lost.
func (r *Region) Uncommit(n int) error {
	n = AlignUp(n, PageSize())
	if n >= r.committed {
		return nil
	}
	if err := uncommit(r.mem[n:r.committed]); err != nil {
		return fmt.Errorf("could not uncommit %d bytes: %w", r.committed-n, err)
	}
	r.committed = n
	return nil
}

// Release unmaps the whole region. The region must not be used afterwards.
func (r *Region) Release() error {
	if r.mem == nil {
		return nil
	}
	err := release(r.mem)
	r.mem = nil
	r.committed = 0
	return err
}

// word returns a pointer to the word at address a.
func (r *Region) word(a Address) *uint64 {
	off := a.Minus(r.base)
	if off < 0 || off+WordSize > r.committed || off&(WordSize-1) != 0 {
		panic(fmt.Sprintf("word access at %s outside committed heap [%s, %s)", a, r.base, r.CommittedEnd()))
	}
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

// Word reads the word at a.
func (r *Region) Word(a Address) uint64 {
	return *r.word(a)
}

// SetWord writes the word at a.
func (r *Region) SetWord(a Address, v uint64) {
	*r.word(a) = v
}

// LoadWord atomically reads the word at a.
func (r *Region) LoadWord(a Address) uint64 {
	return atomic.LoadUint64(r.word(a))
}

// CompareAndSwapWord atomically replaces the word at a with new if it holds old.
func (r *Region) CompareAndSwapWord(a Address, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(r.word(a), old, new)
}

// Ref reads the reference stored at a.
func (r *Region) Ref(a Address) Address {
	return Address(r.Word(a))
}

// SetRef stores reference v at a.
func (r *Region) SetRef(a, v Address) {
	r.SetWord(a, uint64(v))
}

// Bytes returns the committed bytes in [a, a+n).
func (r *Region) Bytes(a Address, n int) []byte {
	off := a.Minus(r.base)
	if off < 0 || off+n > r.committed {
		panic(fmt.Sprintf("range %s+%d outside committed heap [%s, %s)", a, n, r.base, r.CommittedEnd()))
	}
	return r.mem[off : off+n]
}

// Copy copies n bytes from src to dst. The ranges may overlap.
func (r *Region) Copy(dst, src Address, n int) {
	copy(r.Bytes(dst, n), r.Bytes(src, n))
}

// Zero clears n bytes at a.
func (r *Region) Zero(a Address, n int) {
	clear(r.Bytes(a, n))
}
