package frontend

// lexGlobal starts the lexing process and serves as the default state.
func lexGlobal(l *lexer) stateFunc {
	for {
		r := l.next()
		switch {
		case isAlpha(r) || r == '_' || r == '%' || r == '.':
			// Keyword, identifier or register.
			return lexWord
		case isDigit(r):
			// Number.
			return lexNumber
		case r == '-' && isDigit(l.peek()):
			// Negative number.
			return lexNumber
		case r == '-' && l.peek() == '>':
			// Successor arrow.
			l.next()
			if !l.emit(itemArrow) {
				return nil
			}
		case r == '\n':
			// Newlines end declarations and instructions.
			if !l.emit(itemNewline) {
				return nil
			}
			l.line++
			l.startOnLine = 1
		case isSpace(r):
			// Ignore whitespace. Newlines are caught before whitespaces.
			l.ignore()
		case r == '#' || (r == '/' && l.peek() == '/'):
			// Ignore comments up to, but not including, the newline.
			for c := l.peek(); c != '\n' && c != eof; c = l.peek() {
				l.next()
			}
			l.ignore()
		case r == ':':
			if !l.emit(itemColon) {
				return nil
			}
		case r == '@':
			if !l.emit(itemAt) {
				return nil
			}
		case r == '|':
			if !l.emit(itemPipe) {
				return nil
			}
		case r == '/':
			if !l.emit(itemSlash) {
				return nil
			}
		case r == eof:
			// End of file: stop the state machine.
			l.emit(itemEOF)
			return nil
		default:
			return l.errorf("unexpected character %q at line %d:%d", r, l.line, l.startOnLine)
		}
	}
}

// lexWord scans the input string for keywords and identifiers.
func lexWord(l *lexer) stateFunc {
	// We know that the currently scanned rune is a valid first character.
	for {
		r := l.next()

		// Check if character is valid character.
		if !isAlpha(r) && !isDigit(r) && r != '_' && r != '.' && r != '$' {
			l.backup()
			kw, typ := isKeyword(l.input[l.start:l.pos])
			if !kw {
				typ = itemIdentifier
			}
			if !l.emit(typ) {
				return nil
			}
			return lexGlobal
		}
	}
}

// lexNumber scans the input stream for a decimal or hexadecimal integer.
func lexNumber(l *lexer) stateFunc {
	// The first digit, or the sign, has been scanned already.
	digits := "0123456789"
	if l.input[l.start:l.pos] == "-" {
		l.next()
	}
	if l.input[l.pos-1] == '0' && l.accept("xX") {
		digits = "0123456789abcdefABCDEF"
	}
	l.acceptRun(digits)
	if r := l.peek(); isAlpha(r) || r == '_' {
		l.next()
		return l.errorf("malformed number %q at line %d:%d", l.input[l.start:l.pos], l.line, l.startOnLine)
	}
	if !l.emit(itemNumber) {
		return nil
	}
	return lexGlobal
}

// ----------------------------
// ----- Helper functions -----
// ----------------------------

// isAlpha return true if rune r is an alphabetic character in the set [a-zA-Z].
func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// isDigit return true if rune r is a digit in the range [0-9].
func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// isSpace return true if rune r is a whitespace character other than newline.
func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\f' || r == '\r'
}
