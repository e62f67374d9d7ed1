package alloc

import (
	"fmt"
	"sync"

	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir"
	"maxvm/src/util"
)

// AllocateRegisters runs the register allocator over all methods, using opt.Threads worker go routines. Methods are
// independent, so workers only share the session statistics. A fatal error raised while allocating any method is
// re-raised on the calling go routine once all workers have finished.
func AllocateRegisters(opt util.Options, arch regfile.Architecture, methods []*eir.Method, log *util.Logger) *Stats {
	cfg := Config{Debug: opt.Debug}
	stats := &Stats{}

	if opt.Threads > 1 && len(methods) > 1 {
		// Parallel.
		t := opt.Threads
		l := len(methods)
		if t > l {
			t = l
		}
		n := l / t
		res := l % t

		start := 0
		end := n

		// Create error listener.
		perr := util.NewPerror(t)

		// Create wait group for main go routine to wait for worker go routines.
		wg := sync.WaitGroup{}
		wg.Add(t)

		// Spawn t worker go routines.
		for i1 := 0; i1 < t; i1++ {
			if i1 < res {
				end++
			}

			// Spawn worker go routine.
			go func(start, end int, wg *sync.WaitGroup) {
				defer wg.Done()
				for _, e2 := range methods[start:end] {
					func() {
						defer perr.Recover()
						allocateMethod(e2, arch, cfg, stats, log)
					}()
				}
			}(start, end, &wg)

			start = end
			end += n
		}

		// Wait for worker go routines to finish register allocation.
		wg.Wait()
		perr.Stop()

		// Check for errors from worker go routines.
		if perr.Len() > 0 {
			for e1 := range perr.Errors() {
				log.Errorf("%s", e1)
			}
			if fe := perr.Fatal(); fe != nil {
				panic(&util.FatalError{
					Msg: fmt.Sprintf("%d error(s) during parallel register allocation, first: %s", perr.Len(), fe.Msg),
				})
			}
		}
	} else {
		// Sequential.
		for _, e1 := range methods {
			allocateMethod(e1, arch, cfg, stats, log)
		}
	}
	stats.Log(log)
	return stats
}

// allocateMethod allocates one method and merges its statistics into the session.
func allocateMethod(m *eir.Method, arch regfile.Architecture, cfg Config, stats *Stats, log *util.Logger) {
	a := New(m, arch, cfg, log)
	a.Run()
	stats.merge(a.Stats())
}
