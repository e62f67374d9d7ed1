package mutator

import (
	"fmt"

	"maxvm/src/heap"
	"maxvm/src/heap/belt"
	"maxvm/src/heap/mse"
	"maxvm/src/util"
)

// NewScheme creates the heap scheme selected by opt, scanning roots.
func NewScheme(opt util.Options, roots heap.RootScanner, log *util.Logger) (heap.Scheme, error) {
	sp := heap.NewSafepoints()
	switch opt.Scheme {
	case util.MarkSweep:
		s, err := mse.New(mse.Config{
			InitSize:       int(opt.InitHeap),
			MaxSize:        int(opt.MaxHeap),
			TLABSize:       int(opt.TLABSize),
			MinFreePercent: opt.MinFreePercent,
			MaxFreePercent: opt.MaxFreePercent,
		}, roots, sp, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case util.Belt:
		s, err := belt.New(belt.Config{
			InitSize:  int(opt.InitHeap),
			MaxSize:   int(opt.MaxHeap),
			TLABSize:  int(opt.TLABSize),
			GCThreads: opt.GCThreads,
		}, roots, sp, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown heap scheme %d", opt.Scheme)
}
