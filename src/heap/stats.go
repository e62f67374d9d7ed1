package heap

import (
	"time"

	"github.com/inhies/go-bytesize"

	"maxvm/src/util"
)

// Stats describes a heap and the collections it went through. Each scheme keeps its own; there is no global
// collector state.
type Stats struct {
	Scheme      string
	Collections int           // Collections run, of any kind.
	Minor       int           // Nursery collections.
	Major       int           // Mature space collections.
	Resizes     int           // Changes of the committed size.
	Committed   int           // Committed heap bytes.
	Used        int           // Bytes not available for allocation.
	Live        int           // Bytes found live by the last collection.
	Free        int           // Bytes available for allocation.
	DarkMatter  int           // Unreclaimable gap bytes left by the last sweep.
	Reclaimed   int64         // Bytes reclaimed over all collections.
	Promoted    int64         // Bytes copied out of the nursery.
	GCTime      time.Duration // Time spent with the world stopped.
	OutOfMemory bool
}

// Log writes the statistics in verbose mode.
func (s Stats) Log(l *util.Logger) {
	l.Debugf("heap %s: %d collection(s) (%d minor, %d major), %d resize(s), gc time %s",
		s.Scheme, s.Collections, s.Minor, s.Major, s.Resizes, s.GCTime)
	l.Debugf("heap %s: committed %s, used %s, live %s, free %s, dark matter %s",
		s.Scheme, size(s.Committed), size(s.Used), size(s.Live), size(s.Free), size(s.DarkMatter))
	l.Debugf("heap %s: reclaimed %s, promoted %s", s.Scheme, size(int(s.Reclaimed)), size(int(s.Promoted)))
}

func size(n int) string {
	return bytesize.New(float64(n)).String()
}
