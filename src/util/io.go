package util

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Writer buffers output from threads in a strings.Builder.
// When the Flush or Close method is called the buffer is emptied and sent to
// the assigned output writer through channel c.
type Writer struct {
	sb strings.Builder
	c  chan string
}

// ---------------------
// ----- Constants -----
// ---------------------

var wc chan string   // Write channel used for receiving data from worker threads.
var cc chan struct{} // Close channel used by main thread to signal to end write operations.
var dc chan struct{} // Done channel closed by the listener after the last write was flushed.

// ---------------------
// ----- Functions -----
// ---------------------

// Write writes a format string to the Writer's buffer.
func (w *Writer) Write(format string, args ...interface{}) {
	w.sb.WriteString(fmt.Sprintf(format, args...))
}

// Line writes one line indented by a tab per level.
func (w *Writer) Line(indent int, format string, args ...interface{}) {
	w.sb.WriteString(strings.Repeat("\t", indent))
	w.sb.WriteString(fmt.Sprintf(format, args...))
	w.sb.WriteByte('\n')
}

// Label writes a one-line label with the given name.
func (w *Writer) Label(name string) {
	w.sb.WriteString(fmt.Sprintf("%s:\n", name))
}

// String returns the buffered, not yet flushed, output.
func (w *Writer) String() string {
	return w.sb.String()
}

// Flush empties the Writer's buffer and sends the buffer data to the
// designated output writer over the Writer's channel.
func (w *Writer) Flush() {
	if w.c != nil {
		w.c <- w.sb.String()
	}
	w.sb = strings.Builder{}
}

// Close flushes the Writer's buffer and then detaches the Writer from its channel.
func (w *Writer) Close() {
	w.Flush()
	w.c = nil
}

// NewWriter returns a new Writer to be used by worker threads to write strings concurrently to the output buffer.
// Writers created before the main thread has called ListenWrite only buffer their output.
func NewWriter() Writer {
	return Writer{
		sb: strings.Builder{},
		c:  wc,
	}
}

// ReadSource reads source code from file or stdin.
// If the Options structure holds a string for source the file will be opened and read.
// Else the function waits for a short period for input on stdin. If no input on stdin is
// provided the function returns an error.
func ReadSource(opt Options) (string, error) {
	if len(opt.Src) > 0 {
		// Read from file.
		b, err := os.ReadFile(opt.Src)
		return string(b), err
	}

	// Read stdin.
	c := make(chan string, 1)
	cerr := make(chan error, 1)

	// Concurrently wait for input on stdin.
	go func(c chan string, cerr chan error) {
		b, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err == nil {
			c <- string(b)
		} else {
			cerr <- err
		}
	}(c, cerr)

	// Select between input from stdin or timer expiry.
	select {
	case <-time.After(500 * time.Millisecond):
		return "", errors.New("expected input from stdin, got none")
	case err := <-cerr:
		return "", err
	case s := <-c:
		return s, nil
	}
}

// ListenWrite listens for worker thread outputs. The received data is written to either file
// if File pointer f is not nil or stdout if File pointer f is nil. The function loops until
// a termination signal is sent using the Close function.
func ListenWrite(t int, f *os.File) {
	wc = make(chan string, t)
	cc = make(chan struct{}, 1) // Make buffered to catch Close before listener is invoked.
	dc = make(chan struct{})
	var w *bufio.Writer
	if f != nil {
		// Write output to file.
		w = bufio.NewWriter(f)
	} else {
		// Write output to stdout.
		w = bufio.NewWriter(os.Stdout)
	}

	write := func(s string) {
		if _, err := w.WriteString(s); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	// Listen for input and termination signal.
	go func(wc chan string, cc, dc chan struct{}) {
		defer close(dc)
		for {
			select {
			case s := <-wc:
				write(s)
			case <-cc:
				// Drain what was flushed before Close.
				for {
					select {
					case s := <-wc:
						write(s)
					default:
						if err := w.Flush(); err != nil {
							fmt.Fprintln(os.Stderr, err)
						}
						return
					}
				}
			}
		}
	}(wc, cc, dc)
}

// Close sends the termination signal to the writer listener and waits for pending output to be written.
func Close() {
	if cc == nil {
		return
	}
	cc <- struct{}{}
	<-dc
	wc = nil
	cc = nil
}
