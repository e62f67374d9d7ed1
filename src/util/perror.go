package util

import "sync"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Perror provides a structure for listening for errors reported from parallel worker threads and means for
// retrieving errors when a parallel job has been completed. Fatal errors raised by a worker are recorded
// separately so that the caller can re-raise them on its own go routine.
type Perror struct {
	listen     chan error    // Channel for receiving error messages from worker threads.
	stop       chan struct{} // Closing this channel causes the Perror to stop listening for errors.
	done       chan struct{} // Closed by the listener once it has drained and stopped.
	errors     []error       // Buffer of error messages.
	fatal      *FatalError   // First fatal error reported by a worker.
	sync.Mutex               // For synchronising writes and reads.
}

// ----------------------
// ----- Constants ------
// ----------------------

// defaultBufferSize defines the fallback buffer size of the error array.
const defaultBufferSize = 16

// ---------------------
// ----- functions -----
// ---------------------

// NewPerror returns a pointer to a Perror with n number of pre-allocated slots for errors in the buffer.
func NewPerror(n int) *Perror {
	if n < 1 {
		n = defaultBufferSize
	}
	pe := Perror{
		listen: make(chan error),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		errors: make([]error, 0, n),
	}
	go pe.run()
	return &pe
}

// run starts listening for errors on the listen channel. Closing the stop channel causes the listener to stop.
func (pe *Perror) run() {
	defer close(pe.done)
	for {
		select {
		case err := <-pe.listen:
			pe.Lock()
			pe.errors = append(pe.errors, err)
			if fe, ok := err.(*FatalError); ok && pe.fatal == nil {
				pe.fatal = fe
			}
			pe.Unlock()
		case <-pe.stop:
			return
		}
	}
}

// Len returns the number of buffered errors.
func (pe *Perror) Len() int {
	pe.Lock()
	defer pe.Unlock()
	return len(pe.errors)
}

// Stop stops the error listener. Append must not be called after Stop.
func (pe *Perror) Stop() {
	close(pe.stop)
	<-pe.done
}

// Append sends the error message err to the error listener. <nil> errors are ignored.
func (pe *Perror) Append(err error) {
	if err != nil {
		pe.listen <- err
	}
}

// Recover is deferred by worker go routines. A FatalError panic is reported to the listener instead of
// crashing the process from a worker; any other panic is propagated.
func (pe *Perror) Recover() {
	if r := recover(); r != nil {
		fe := AsFatal(r)
		if fe == nil {
			panic(r)
		}
		pe.Append(fe)
	}
}

// Fatal returns the first fatal error reported, or <nil>.
func (pe *Perror) Fatal() *FatalError {
	pe.Lock()
	defer pe.Unlock()
	return pe.fatal
}

// Errors returns a buffered channel with all the reported errors, effectively creating an iterator.
func (pe *Perror) Errors() <-chan error {
	pe.Lock()
	defer pe.Unlock()
	c := make(chan error, len(pe.errors))
	for _, e1 := range pe.errors {
		c <- e1
	}
	close(c)
	return c
}
