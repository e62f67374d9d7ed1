// This lexer is based on Rob Pike's talk on Go scanners.
// Link to the talk on YouTube: https://www.youtube.com/watch?v=HxaD_trXwRE
// Link to presentation slides: https://talks.golang.org/2011/lex.slide#1
//
// The lexer uses state functions stateFunc to define the lexer state. States allow the lexer to treat same runes
// differently. The textual EIR format is line oriented, so unlike most scanners this one emits newlines as tokens.

package frontend

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// stateFunc defines the state of the lexer.
type stateFunc func(*lexer) stateFunc

// itemType is used to differentiate different tokens scanned by the lexer.
type itemType int

// item contains a lexeme scanned by the lexer and its position in the source stream.
type item struct {
	typ  itemType // Token type to emit.
	val  string   // Value of token.
	line int      // Line of token in source stream.
	pos  int      // Start position on current line of token in source stream.
}

// lexer is a lexical type that traverse a source stream character by character and emits lexemes.
type lexer struct {
	input       string        // The source stream of characters to scan for lexemes.
	start       int           // The starting position of the current token.
	pos         int           // The current position of the scanner in the source stream.
	width       int           // The width of the currently scanned rune/character in bytes.
	line        int           // The current line in the source stream. Not zero-indexed.
	startOnLine int           // The start position of the current token on the current line. Not zero-indexed.
	state       stateFunc     // The start state of the lexer.
	items       chan item     // A channel for emitting item tokens.
	done        chan struct{} // Closed by the consumer to abandon the scan.
}

// ---------------------
// ----- Constants -----
// ---------------------

const eof = 0 // Same as '\0' for null-terminated C strings.

// Token types.
const (
	itemEOF itemType = iota
	itemError
	itemNewline
	itemIdentifier
	itemNumber
	itemColon
	itemAt
	itemPipe
	itemSlash
	itemArrow

	// Keywords.
	itemKeyword
	itemMethod
	itemAdapters
	itemVar
	itemFixed
	itemConst
	itemBlock
	itemDepth
	itemEnd
	itemMov
	itemOp
	itemCall
	itemRet
	itemBr
	itemNop
	itemDef
	itemUse
	itemUpd
	itemInt
	itemFloat
	itemRef
)

var itemNames = map[itemType]string{
	itemEOF:        "EOF",
	itemError:      "ERROR",
	itemNewline:    "NEWLINE",
	itemIdentifier: "IDENTIFIER",
	itemNumber:     "NUMBER",
	itemColon:      "':'",
	itemAt:         "'@'",
	itemPipe:       "'|'",
	itemSlash:      "'/'",
	itemArrow:      "'->'",
}

// --------------------------
// ----- Item functions -----
// --------------------------

// String returns the name of the token type.
func (t itemType) String() string {
	if s, ok := itemNames[t]; ok {
		return s
	}
	if t > itemKeyword {
		return strings.ToUpper(keywordName(t))
	}
	return fmt.Sprintf("item(%d)", int(t))
}

// String returns a print friendly string representation of the item.
func (i item) String() string {
	switch i.typ {
	case itemEOF:
		return "EOF"
	case itemError:
		return fmt.Sprintf("%s [ERROR]", i.val)
	case itemNewline:
		return fmt.Sprintf("newline (line %d:%d)", i.line, i.pos)
	}
	if len(i.val) > 10 {
		return fmt.Sprintf("%.10q... (line %d:%d)", i.val, i.line, i.pos)
	}
	return fmt.Sprintf("%q (line %d:%d)", i.val, i.line, i.pos)
}

// ---------------------------
// ----- Lexer functions -----
// ---------------------------

// newLexer creates and returns a pointer to a new lexer.
func newLexer(src string, start stateFunc) *lexer {
	return &lexer{
		input:       src,
		line:        1,
		startOnLine: 1,
		state:       start,
		items:       make(chan item, 2),
		done:        make(chan struct{}),
	}
}

// run initiates the traversal of the input stream of the lexer, resulting in tokens being emitted
// on the lexer's items channel.
func (l *lexer) run() {
	defer close(l.items)
	for state := l.state; state != nil; {
		state = state(l)
	}
}

// stop abandons the scan. The lexer go routine exits at its next emit.
func (l *lexer) stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// send passes it to the consumer. It returns false if the consumer has stopped listening.
func (l *lexer) send(it item) bool {
	select {
	case l.items <- it:
		return true
	case <-l.done:
		return false
	}
}

// emit sends an item of type typ back to the caller.
func (l *lexer) emit(typ itemType) bool {
	ok := l.send(item{
		typ:  typ,
		val:  l.input[l.start:l.pos],
		line: l.line,
		pos:  l.startOnLine,
	})
	l.startOnLine += len(l.input[l.start:l.pos])
	l.start = l.pos
	return ok
}

// next returns the next rune in the input. The use of runes makes the lexer UTF-8 compatible.
func (l *lexer) next() (r rune) {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, l.width = utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += l.width
	return r
}

// ignore skips over the pending input before this point.
func (l *lexer) ignore() {
	l.startOnLine += len(l.input[l.start:l.pos])
	l.start = l.pos
}

// backup steps back one rune. Should only be called once per call of next.
func (l *lexer) backup() {
	if l.pos > l.start {
		l.pos -= l.width
	}
}

// peek returns, but does not consume, the next rune in the input.
func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

// accept consumes the next rune if it's from the set of valid characters defined by the valid string.
func (l *lexer) accept(valid string) bool {
	if strings.IndexRune(valid, l.next()) >= 0 {
		return true
	}
	l.backup()
	return false
}

// acceptRun consumes a sequence of runes from the set of valid characters defined by the valid string.
func (l *lexer) acceptRun(valid string) {
	for strings.IndexRune(valid, l.next()) >= 0 {
	}
	l.backup()
}

// nextItem returns the next item from the input. After the lexer has finished it keeps returning EOF.
func (l *lexer) nextItem() item {
	it, ok := <-l.items
	if !ok {
		return item{typ: itemEOF, line: l.line}
	}
	return it
}

// errorf returns an error token and terminates the scan by passing back a nil pointer
// that will be the next state, terminating l.run.
func (l *lexer) errorf(format string, args ...interface{}) stateFunc {
	l.send(item{
		typ:  itemError,
		val:  fmt.Sprintf(format, args...),
		line: l.line,
		pos:  l.startOnLine,
	})
	return nil
}
