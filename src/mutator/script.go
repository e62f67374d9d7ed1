// Package mutator runs workload scripts against a heap scheme. A script lists the commands of one or more mutator
// threads; each thread runs in its own goroutine, holds the safepoint while it executes a command and polls in
// between. Objects are kept alive through named handles, which form the root set of the collectors.
//
//	# comment
//	thread worker
//	  alloc list 32 1          # handle list := new object of 32 bytes whose first payload word is a reference
//	  repeat 100 alloc tmp 64  # garbage
//	  store list 0 tmp
//	  weak w list
//	  drop list
//	  gc
//	  expect cleared w
//	  sync                     # wait for the other threads
//
// Commands before the first thread line belong to the thread named main.
package mutator

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"maxvm/src/heap/layout"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Op is a script command.
type Op int

// Command is one parsed script line.
type Command struct {
	Line   int
	Op     Op
	Repeat int    // Times the command runs.
	Handle string // Handle written or inspected by the command.
	Other  string // Second handle: the referent, the value stored, or the holder loaded from.
	Size   int
	Refs   int // Leading reference words of an allocated object.
	Index  int // Payload word index.
	Kind   string
	Count  int
}

// Script is the command list of one thread.
type Script struct {
	Name     string
	Commands []Command
}

// Workload is a parsed script.
type Workload struct {
	Scripts []*Script
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	OpAlloc Op = iota
	OpWeak
	OpSoft
	OpStore
	OpLoad
	OpClear
	OpDrop
	OpRoot
	OpGC
	OpSync
	OpExpect
	OpStats
)

var opNames = [...]string{"alloc", "weak", "soft", "store", "load", "clear", "drop", "root", "gc", "sync", "expect",
	"stats"}

// Expectations.
const (
	ExpectCleared     = "cleared"
	ExpectReferent    = "referent"
	ExpectLive        = "live"
	ExpectCollections = "collections"
)

// referenceSize is the size of weak and soft reference objects: a header and the referent.
const referenceSize = layout.HeaderSize + layout.WordSize

// ---------------------
// ----- Functions -----
// ---------------------

func (o Op) String() string {
	return opNames[o]
}

// ParseFile reads and parses the workload script at path.
func ParseFile(path string) (*Workload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read workload: %s", err)
	}
	return Parse(string(b))
}

// Parse parses a workload script. Every thread must synchronise the same number of times.
func Parse(src string) (*Workload, error) {
	w := &Workload{}
	names := make(map[string]bool)
	var cur *Script
	for i1, e1 := range strings.Split(src, "\n") {
		line := i1 + 1
		words, err := shlex.Split(e1)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s", line, err)
		}
		if len(words) == 0 {
			continue
		}
		if words[0] == "thread" {
			if len(words) != 2 {
				return nil, fmt.Errorf("line %d: expected thread NAME", line)
			}
			if names[words[1]] {
				return nil, fmt.Errorf("line %d: thread %s declared twice", line, words[1])
			}
			names[words[1]] = true
			cur = &Script{Name: words[1]}
			w.Scripts = append(w.Scripts, cur)
			continue
		}
		if cur == nil {
			if names["main"] {
				return nil, fmt.Errorf("line %d: thread main declared twice", line)
			}
			names["main"] = true
			cur = &Script{Name: "main"}
			w.Scripts = append(w.Scripts, cur)
		}
		c, err := parseCommand(words, line, true)
		if err != nil {
			return nil, err
		}
		cur.Commands = append(cur.Commands, c)
	}
	if len(w.Scripts) == 0 {
		return nil, fmt.Errorf("workload has no commands")
	}

	syncs := -1
	for _, e1 := range w.Scripts {
		n := 0
		for _, e2 := range e1.Commands {
			if e2.Op == OpSync {
				n++
			}
		}
		if syncs >= 0 && n != syncs {
			return nil, fmt.Errorf("thread %s synchronises %d time(s), thread %s %d time(s)",
				e1.Name, n, w.Scripts[0].Name, syncs)
		}
		syncs = n
	}
	return w, nil
}

// parseCommand parses the words of one command line.
func parseCommand(words []string, line int, top bool) (Command, error) {
	c := Command{Line: line, Repeat: 1}
	errorf := func(format string, args ...interface{}) (Command, error) {
		return c, fmt.Errorf("line %d: %s: %s", line, words[0], fmt.Sprintf(format, args...))
	}
	args := words[1:]
	arity := func(lo, hi int) bool {
		return len(args) >= lo && len(args) <= hi
	}
	number := func(s string, what string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("line %d: %s: invalid %s %q", line, words[0], what, s)
		}
		return n, nil
	}

	var err error
	switch words[0] {
	case "repeat":
		if !top {
			return errorf("repeat cannot be nested")
		}
		if len(args) < 2 {
			return errorf("expected repeat N COMMAND")
		}
		n, err := number(args[0], "count")
		if err != nil {
			return c, err
		}
		if c, err = parseCommand(args[1:], line, false); err != nil {
			return c, err
		}
		if c.Op == OpSync {
			return errorf("sync cannot be repeated")
		}
		c.Repeat = n
		return c, nil
	case "alloc":
		c.Op = OpAlloc
		if !arity(2, 3) {
			return errorf("expected alloc HANDLE SIZE [REFS]")
		}
		c.Handle = args[0]
		size, err := parseSize(args[1])
		if err != nil {
			return errorf("%s", err)
		}
		c.Size = layout.AlignSize(size)
		if len(args) == 3 {
			if c.Refs, err = number(args[2], "reference count"); err != nil {
				return c, err
			}
		}
		if payload := (c.Size - layout.HeaderSize) / layout.WordSize; c.Refs > payload || c.Refs > layout.MaxRefWords {
			return errorf("%d references do not fit in an object of %d bytes", c.Refs, c.Size)
		}
	case "weak", "soft":
		c.Op = OpWeak
		if words[0] == "soft" {
			c.Op = OpSoft
		}
		if !arity(2, 2) {
			return errorf("expected %s HANDLE TARGET", words[0])
		}
		c.Handle, c.Other, c.Size = args[0], args[1], referenceSize
	case "store":
		c.Op = OpStore
		if !arity(3, 3) {
			return errorf("expected store HANDLE INDEX VALUE")
		}
		c.Handle, c.Other = args[0], args[2]
		c.Index, err = number(args[1], "index")
	case "load":
		c.Op = OpLoad
		if !arity(3, 3) {
			return errorf("expected load HANDLE FROM INDEX")
		}
		c.Handle, c.Other = args[0], args[1]
		c.Index, err = number(args[2], "index")
	case "clear":
		c.Op = OpClear
		if !arity(2, 2) {
			return errorf("expected clear HANDLE INDEX")
		}
		c.Handle = args[0]
		c.Index, err = number(args[1], "index")
	case "drop":
		c.Op = OpDrop
		if !arity(1, 1) {
			return errorf("expected drop HANDLE")
		}
		c.Handle = args[0]
	case "root":
		c.Op = OpRoot
		if !arity(1, 2) {
			return errorf("expected root HANDLE [boot|code]")
		}
		c.Handle, c.Kind = args[0], "boot"
		if len(args) == 2 {
			c.Kind = args[1]
		}
		if c.Kind != "boot" && c.Kind != "code" {
			return errorf("unknown root kind %q", c.Kind)
		}
	case "gc", "sync", "stats":
		c.Op = map[string]Op{"gc": OpGC, "sync": OpSync, "stats": OpStats}[words[0]]
		if !arity(0, 0) {
			return errorf("unexpected arguments")
		}
	case "expect":
		c.Op = OpExpect
		if !arity(2, 2) {
			return errorf("expected expect cleared|referent|live HANDLE or expect collections N")
		}
		c.Kind = args[0]
		switch c.Kind {
		case ExpectCleared, ExpectReferent, ExpectLive:
			c.Handle = args[1]
		case ExpectCollections:
			c.Count, err = number(args[1], "count")
		default:
			return errorf("unknown expectation %q", c.Kind)
		}
	default:
		return c, fmt.Errorf("line %d: unknown command %q", line, words[0])
	}
	return c, err
}

// parseSize parses a plain byte count or a size with a unit.
func parseSize(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("size must be positive, got %d", n)
		}
		return n, nil
	}
	b, err := util.ParseSize(s)
	if err != nil {
		return 0, err
	}
	return int(b), nil
}
