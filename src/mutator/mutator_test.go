package mutator

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/inhies/go-bytesize"
	"github.com/stretchr/testify/require"

	"maxvm/src/heap"
	"maxvm/src/util"
)

func TestParse(t *testing.T) {
	w, err := Parse(`
alloc x 32
sync
thread t1
  alloc a 1K 4   # comment
  repeat 10 alloc "b" 24 1
  sync
thread t2
  weak w a
  expect collections 3
  sync
`)
	require.NoError(t, err)
	require.Len(t, w.Scripts, 3)
	require.Equal(t, "main", w.Scripts[0].Name)
	require.Equal(t, Command{Line: 5, Op: OpAlloc, Repeat: 1, Handle: "a", Size: 1024, Refs: 4},
		w.Scripts[1].Commands[0])
	require.Equal(t, Command{Line: 6, Op: OpAlloc, Repeat: 10, Handle: "b", Size: 24, Refs: 1},
		w.Scripts[1].Commands[1])
	require.Equal(t, OpSync, w.Scripts[1].Commands[2].Op)
	require.Equal(t, Command{Line: 9, Op: OpWeak, Repeat: 1, Handle: "w", Other: "a", Size: referenceSize},
		w.Scripts[2].Commands[0])
	require.Equal(t, Command{Line: 10, Op: OpExpect, Repeat: 1, Kind: ExpectCollections, Count: 3},
		w.Scripts[2].Commands[1])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src string
		err string
	}{
		{"", "no commands"},
		{"fly away", `unknown command "fly"`},
		{"alloc x", "expected alloc"},
		{"alloc x big", "invalid memory size"},
		{"alloc x 16 1", "do not fit"},
		{"alloc x 32 -1", "invalid reference count"},
		{"repeat 3 repeat 2 gc", "cannot be nested"},
		{"repeat 3 sync", "cannot be repeated"},
		{"root x heap", "unknown root kind"},
		{"expect gone x", "unknown expectation"},
		{"gc now", "unexpected arguments"},
		{"store a b c", "invalid index"},
		{"alloc 'x 32", "line 1"},
		{"thread a\ngc\nthread a\ngc", "declared twice"},
		{"thread a\nsync\nthread b\ngc", "synchronises"},
	}
	for _, e1 := range tests {
		_, err := Parse(e1.src)
		require.Error(t, err, e1.src)
		require.Contains(t, err.Error(), e1.err, e1.src)
	}
}

func options(scheme int) util.Options {
	opt := util.DefaultOptions()
	opt.Scheme = scheme
	opt.InitHeap = 256 * bytesize.KB
	opt.MaxHeap = 1 * bytesize.MB
	opt.TLABSize = 4 * bytesize.KB
	opt.GCThreads = 2
	return opt
}

func run(t *testing.T, scheme int, src string) (Result, error) {
	w, err := Parse(src)
	require.NoError(t, err)
	roots := NewRoots()
	s, err := NewScheme(options(scheme), roots, util.Discard())
	require.NoError(t, err)
	defer s.Close()
	return Run(w, s, roots, util.Discard())
}

var schemes = []struct {
	name   string
	scheme int
}{
	{"mark-sweep", util.MarkSweep},
	{"belt", util.Belt},
}

func TestRun(t *testing.T) {
	const src = `
alloc list 32 1
alloc node 48 2
store list 0 node
alloc tmp 64
weak w tmp
weak keep node
soft s node
drop tmp
drop node
repeat 2000 alloc garbage 128
gc
expect cleared w
expect referent keep
expect referent s
load n list 0
expect live n
clear list 0
drop n
drop s
gc
expect cleared keep

alloc pinned 32 1
root pinned code
weak wp pinned
drop pinned
gc
expect referent wp
expect collections 3
stats
`
	for _, e1 := range schemes {
		t.Run(e1.name, func(t *testing.T) {
			res, err := run(t, e1.scheme, src)
			require.NoError(t, err)
			require.GreaterOrEqual(t, res.Threads["main"].Objects, 2000)
			require.GreaterOrEqual(t, res.Heap.Collections, 3)
			require.False(t, res.Heap.OutOfMemory)
		})
	}
}

func TestRunThreads(t *testing.T) {
	const src = `
thread a
  alloc keep 64 2
  repeat 500 alloc tmp 256
  sync
  gc
  sync
  expect live keep
  expect collections 1
thread b
  alloc keep 64 2
  repeat 500 alloc tmp 256 1
  store keep 1 tmp
  sync
  repeat 500 alloc tmp 32
  sync
  expect live keep
  load old keep 1
  expect live old
thread c
  sync
  sync
`
	for _, e1 := range schemes {
		t.Run(e1.name, func(t *testing.T) {
			res, err := run(t, e1.scheme, src)
			require.NoError(t, err)
			require.Len(t, res.Threads, 3)
			require.Equal(t, 1001, res.Threads["b"].Objects)
			require.Zero(t, res.Threads["c"].Objects)
		})
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		src string
		err string
	}{
		{"alloc x 32\nweak w x\ngc\nexpect cleared w", "referent of w was not cleared"},
		{"alloc x 32\nexpect referent x", "not a reference object"},
		{"drop x", "unknown handle x"},
		{"alloc x 32\nstore x 0 x", "is not a reference"},
		{"expect collections 5", "at least 5"},
	}
	for _, e1 := range tests {
		_, err := run(t, util.MarkSweep, e1.src)
		require.Error(t, err, e1.src)
		require.Contains(t, err.Error(), e1.err)
	}

	// A failing thread leaves the barrier, so the others still finish.
	_, err := run(t, util.MarkSweep, "thread a\ndrop y\nsync\nthread b\nsync\ngc")
	require.ErrorContains(t, err, "thread a, line 2: drop: unknown handle y")
}

// TestRunOutOfMemory requests more than the maximum heap: the collection attempt does not help, and the fatal
// error reaches the caller of Run.
func TestRunOutOfMemory(t *testing.T) {
	for _, e1 := range schemes {
		t.Run(e1.name, func(t *testing.T) {
			var fe *util.FatalError
			func() {
				defer func() { fe = util.AsFatal(recover()) }()
				_, _ = run(t, e1.scheme, "alloc keep 64\nalloc big 2M")
			}()
			require.NotNil(t, fe)
			require.Contains(t, fe.Msg, "out of memory: cannot allocate 2097152 bytes")
		})
	}
}

func TestRoots(t *testing.T) {
	r := NewRoots()
	a := r.Handles("a")
	a["x"] = 16
	a["y"] = 32
	r.Handles("b")["x"] = 48
	r.Pin(64, false)
	r.Pin(80, true)
	require.Equal(t, 5, r.Len())

	var seen []heap.Address
	visit := func(ref heap.Address) heap.Address {
		seen = append(seen, ref)
		return ref + 1
	}
	r.ScanBootHeap(visit)
	r.ScanCode(visit)
	require.Equal(t, []heap.Address{64, 80}, seen)
	r.ScanRoots(visit)
	require.Len(t, seen, 5)
	require.Equal(t, heap.Address(17), r.Handles("a")["x"])
	require.Equal(t, heap.Address(49), r.Handles("b")["x"])
}

func TestWorkloads(t *testing.T) {
	files, err := filepath.Glob("../../resources/workloads/*.gc")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, e1 := range files {
		b, err := os.ReadFile(e1)
		require.NoError(t, err)
		for _, e2 := range schemes {
			t.Run(filepath.Base(e1)+"/"+e2.name, func(t *testing.T) {
				var buf bytes.Buffer
				log := util.NewLoggerTo(&buf, false)
				w, err := Parse(string(b))
				require.NoError(t, err)
				roots := NewRoots()
				opt := options(e2.scheme)
				opt.MaxHeap = 8 * bytesize.MB
				opt.InitHeap = 1 * bytesize.MB
				s, err := NewScheme(opt, roots, log)
				require.NoError(t, err)
				defer s.Close()
				_, err = Run(w, s, roots, log)
				require.NoError(t, err, buf.String())
			})
		}
	}
}
