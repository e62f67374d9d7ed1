package heap

import (
	"maxvm/src/util"
)

// CollectorThread runs collections on a dedicated goroutine, one operation at a time, with the world stopped for
// each of them. Requests block until their collection has completed.
type CollectorThread struct {
	ops     chan operation
	done    chan struct{}
	sp      *Safepoints
	collect func(reason Reason, size int) bool
}

// operation is one queued collection request.
type operation struct {
	reason Reason
	size   int
	result chan result
}

type result struct {
	ok    bool
	fatal *util.FatalError
}

// StartCollector starts the collector goroutine. collect runs with the world stopped and returns false if the heap
// cannot satisfy a request of size bytes.
func StartCollector(sp *Safepoints, collect func(reason Reason, size int) bool) *CollectorThread {
	c := &CollectorThread{
		ops:     make(chan operation),
		done:    make(chan struct{}),
		sp:      sp,
		collect: collect,
	}
	go c.run()
	return c
}

func (c *CollectorThread) run() {
	defer close(c.done)
	for op := range c.ops {
		c.sp.StopTheWorld()
		r := c.execute(op)
		c.sp.ResumeTheWorld()
		op.result <- r
	}
}

// execute runs one collection. A fatal error is handed back to the requesting goroutine.
func (c *CollectorThread) execute(op operation) (r result) {
	defer func() {
		if v := recover(); v != nil {
			fe := util.AsFatal(v)
			if fe == nil {
				panic(v)
			}
			r = result{fatal: fe}
		}
	}()
	return result{ok: c.collect(op.reason, op.size)}
}

// Request enqueues a collection and waits for it. A fatal error raised by the collection is re-raised here.
func (c *CollectorThread) Request(reason Reason, size int) bool {
	op := operation{reason: reason, size: size, result: make(chan result, 1)}
	c.ops <- op
	r := <-op.result
	if r.fatal != nil {
		panic(r.fatal)
	}
	return r.ok
}

// Stop ends the collector goroutine once pending requests have been served.
func (c *CollectorThread) Stop() {
	close(c.ops)
	<-c.done
}
