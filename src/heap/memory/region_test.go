package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionCommit(t *testing.T) {
	page := PageSize()
	r, err := Reserve(4*page - 1)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Release()) }()

	require.Equal(t, 4*page, r.Size())
	require.Equal(t, 0, r.Committed())
	require.False(t, r.Contains(r.Start()))

	require.NoError(t, r.Commit(page+1))
	require.Equal(t, 2*page, r.Committed())
	require.True(t, r.Contains(r.Start().Plus(2*page-WordSize)))
	require.False(t, r.Contains(r.CommittedEnd()))

	// Committed memory reads as zero and is writable.
	a := r.Start().Plus(page)
	require.Zero(t, r.Word(a))
	r.SetWord(a, 0xdeadbeef)
	require.Equal(t, uint64(0xdeadbeef), r.LoadWord(a))

	require.NoError(t, r.Uncommit(page))
	require.Equal(t, page, r.Committed())
	require.Panics(t, func() { r.Word(a) })

	// Recommitted pages are fresh.
	require.NoError(t, r.Commit(2*page))
	require.Zero(t, r.Word(a))

	require.Error(t, r.Commit(5*page))
}

func TestRegionWords(t *testing.T) {
	r, err := Reserve(PageSize())
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Release()) }()
	require.NoError(t, r.Commit(PageSize()))

	a := r.Start().Plus(64)
	r.SetRef(a, a)
	require.Equal(t, a, r.Ref(a))

	require.False(t, r.CompareAndSwapWord(a, 1, 2))
	require.True(t, r.CompareAndSwapWord(a, uint64(a), 7))
	require.Equal(t, uint64(7), r.Word(a))

	r.SetWord(a.Plus(8), 9)
	r.Copy(a.Plus(32), a, 16)
	require.Equal(t, uint64(7), r.Word(a.Plus(32)))
	require.Equal(t, uint64(9), r.Word(a.Plus(40)))

	r.Zero(a, 16)
	require.Zero(t, r.Word(a.Plus(8)))
	require.Panics(t, func() { r.Word(a.Plus(1)) })
}

func TestAddress(t *testing.T) {
	a := Address(0x1000)
	require.Equal(t, Address(0x1010), a.Plus(16))
	require.Equal(t, 16, a.Plus(16).Minus(a))
	require.True(t, Address(0).IsZero())
	require.Equal(t, "0x1000", a.String())
	require.Equal(t, 24, AlignUp(17, 8))
	require.Equal(t, 16, AlignUp(16, 8))
}
