package heap

import (
	"math/bits"
	"sync"

	"maxvm/src/heap/layout"
	"maxvm/src/heap/memory"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// FreeList is a singly linked list of free chunks threaded through the heap. Each chunk holds its size in its header
// and the next chunk in its second word.
type FreeList struct {
	region *memory.Region
	head   Address
	bytes  int
	chunks int
}

// FreeSpaceManager keeps the free chunks of a mark-sweep heap in bins by size. Bin 0 holds chunks below binBase bytes;
// bin i above holds chunks of [binBase<<(i-1), binBase<<i) bytes, the last bin everything larger. Direct allocation
// is first-fit from the smallest sized bin that may hold a large enough chunk. Requests below binBase bytes search
// bin 0 last, so small chunks are kept for TLAB refills while larger ones remain.
type FreeSpaceManager struct {
	mu             sync.Mutex
	region         *memory.Region
	bins           [NumBins]FreeList
	minReclaimable int
	darkMatter     int
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	NumBins = 12

	binBase      = 256
	minTLABChunk = 4 * layout.MinObjectSize
)

// ---------------------
// ----- Functions -----
// ---------------------

func (l *FreeList) Bytes() int    { return l.bytes }
func (l *FreeList) Len() int      { return l.chunks }
func (l *FreeList) IsEmpty() bool { return l.head == 0 }
func (l *FreeList) Head() Address { return l.head }

// Push formats [a, a+size) as a free chunk and links it at the head of the list.
func (l *FreeList) Push(a Address, size int) {
	layout.WriteFree(l.region, a, size, l.head)
	l.head = a
	l.bytes += size
	l.chunks++
}

// unlink removes chunk c following prev, or the head if prev is zero.
func (l *FreeList) unlink(prev, c Address, size int) {
	next := layout.NextFree(l.region, c)
	if prev == 0 {
		l.head = next
	} else {
		layout.SetNextFree(l.region, prev, next)
	}
	l.bytes -= size
	l.chunks--
}

// find returns the first chunk accepted by fit, and its predecessor.
func (l *FreeList) find(fit func(size int) bool) (prev, c Address, size int) {
	for c = l.head; c != 0; prev, c = c, layout.NextFree(l.region, c) {
		if size = layout.SizeOf(l.region.Word(c)); fit(size) {
			return prev, c, size
		}
	}
	return 0, 0, 0
}

// Take unlinks the first chunk accepted by fit and returns it with its size, or zero.
func (l *FreeList) Take(fit func(size int) bool) (Address, int) {
	prev, c, size := l.find(fit)
	if c != 0 {
		l.unlink(prev, c, size)
	}
	return c, size
}

// ForEach calls fn with every chunk of the list.
func (l *FreeList) ForEach(fn func(a Address, size int)) {
	for c := l.head; c != 0; c = layout.NextFree(l.region, c) {
		fn(c, layout.SizeOf(l.region.Word(c)))
	}
}

// fits returns a first-fit predicate for requests of size bytes: the chunk is either an exact fit or leaves a
// remainder that can become a free chunk of its own.
func fits(size int) func(int) bool {
	return func(c int) bool {
		return c == size || c >= size+layout.MinObjectSize
	}
}

// binFor returns the bin holding chunks of size bytes.
func binFor(size int) int {
	if size < binBase {
		return 0
	}
	i := bits.Len(uint(size / binBase))
	if i >= NumBins {
		return NumBins - 1
	}
	return i
}

// firstBin returns the first bin searched for direct allocations of size bytes.
func firstBin(size int) int {
	if i := binFor(size); i > 0 {
		return i
	}
	return 1
}

// NewFreeSpaceManager returns an empty manager for chunks in region. Gaps smaller than minReclaimable bytes reported
// by the sweeper are left as dead fillers.
func NewFreeSpaceManager(region *memory.Region, minReclaimable int) *FreeSpaceManager {
	if minReclaimable < layout.MinObjectSize {
		minReclaimable = layout.MinObjectSize
	}
	m := &FreeSpaceManager{region: region, minReclaimable: minReclaimable}
	for i1 := range m.bins {
		m.bins[i1].region = region
	}
	return m
}

// Reset empties every bin before the sweeper rebuilds them.
func (m *FreeSpaceManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i1 := range m.bins {
		m.bins[i1] = FreeList{region: m.region}
	}
	m.darkMatter = 0
}

// AddChunk records the gap [a, a+size) as free space, or as dark matter if it is too small to be worth reclaiming.
// It returns true if the gap was reclaimed.
func (m *FreeSpaceManager) AddChunk(a Address, size int) bool {
	if size <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < m.minReclaimable {
		layout.FillDead(m.region, a, size)
		m.darkMatter += size
		return false
	}
	m.bins[binFor(size)].Push(a, size)
	return true
}

// split returns the tail of chunk [c, c+size) beyond n bytes to the bins.
func (m *FreeSpaceManager) split(c Address, size, n int) {
	if size > n {
		rest := size - n
		m.bins[binFor(rest)].Push(c.Plus(n), rest)
	}
}

// Allocate carves size bytes from the first fitting chunk, or returns zero.
func (m *FreeSpaceManager) Allocate(size int) Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i1 := firstBin(size); i1 < NumBins; i1++ {
		if c, n := m.bins[i1].Take(fits(size)); c != 0 {
			m.split(c, n, size)
			return c
		}
	}
	if binFor(size) == 0 {
		if c, n := m.bins[0].Take(fits(size)); c != 0 {
			m.split(c, n, size)
			return c
		}
	}
	return 0
}

// AllocateTLAB returns a chunk for a TLAB refill: size bytes if a fitting chunk exists, otherwise the first chunk of
// at least minTLABChunk bytes, small chunks first. It returns zero if no chunk is large enough.
func (m *FreeSpaceManager) AllocateTLAB(size int) (Address, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i1 := firstBin(size); i1 < NumBins; i1++ {
		if c, n := m.bins[i1].Take(fits(size)); c != 0 {
			m.split(c, n, size)
			return c, size
		}
	}
	for i1 := range m.bins {
		if c, n := m.bins[i1].Take(func(c int) bool { return c >= minTLABChunk }); c != 0 {
			return c, n
		}
	}
	return 0, 0
}

// CanSatisfy returns true if Allocate(size) would succeed.
func (m *FreeSpaceManager) CanSatisfy(size int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i1 := firstBin(size); i1 < NumBins; i1++ {
		if _, c, _ := m.bins[i1].find(fits(size)); c != 0 {
			return true
		}
	}
	if binFor(size) == 0 {
		_, c, _ := m.bins[0].find(fits(size))
		return c != 0
	}
	return false
}

// RemoveEndingAt unlinks the free chunk ending exactly at end and returns it, or zero.
func (m *FreeSpaceManager) RemoveEndingAt(end Address) (Address, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i1 := range m.bins {
		l := &m.bins[i1]
		for prev, c := Address(0), l.head; c != 0; prev, c = c, layout.NextFree(m.region, c) {
			if size := layout.SizeOf(m.region.Word(c)); c.Plus(size) == end {
				l.unlink(prev, c, size)
				return c, size
			}
		}
	}
	return 0, 0
}

// FreeBytes returns the bytes held by all bins.
func (m *FreeSpaceManager) FreeBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i1 := range m.bins {
		n += m.bins[i1].bytes
	}
	return n
}

// DarkMatter returns the bytes of gaps left unreclaimed by the last sweep.
func (m *FreeSpaceManager) DarkMatter() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.darkMatter
}

// ForEach calls fn with every free chunk, bin by bin.
func (m *FreeSpaceManager) ForEach(fn func(a Address, size int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i1 := range m.bins {
		m.bins[i1].ForEach(fn)
	}
}
