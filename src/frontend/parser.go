// parser.go provides a recursive descent parser that turns the token stream of the lexer into EIR methods. The
// scanner runs concurrently to the parser, which lets one go routine scan the source for lexemes while the other
// builds the methods.

package frontend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"maxvm/src/backend/regfile"
	"maxvm/src/ir/eir"
	"maxvm/src/ir/eir/types"
	"maxvm/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// parser holds the state of one parse.
type parser struct {
	l      *lexer
	arch   regfile.Architecture
	tok    item // Current token.
	peeked bool // tok has been read ahead.

	m          *eir.Method
	values     map[string]eir.Value
	masks      map[*eir.Variable]types.LocationCategory
	successors map[*eir.Block][]item
	block      *eir.Block
}

// parseError is raised inside the parser and recovered by Parse.
type parseError struct {
	err error
}

// -------------------
// ----- Globals -----
// -------------------

var categoryNames = map[string]types.LocationCategory{
	"reg":   types.IntegerRegister | types.FloatingPointRegister,
	"freg":  types.FloatingPointRegister,
	"stack": types.StackSlot,
	"imm":   types.Immediate,
	"any":   types.Any,
}

// ---------------------
// ----- Functions -----
// ---------------------

// Parse reads all methods of the textual EIR source src. Register names are resolved against arch.
func Parse(src string, arch regfile.Architecture) (methods []*eir.Method, err error) {
	l := newLexer(src, lexGlobal)

	// Start scanner and run it concurrently to the parser.
	go l.run()
	defer l.stop()

	p := &parser{l: l, arch: arch}
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(parseError)
			if !ok {
				panic(r)
			}
			methods = nil
			err = pe.err
		}
	}()

	for {
		p.skipNewlines()
		if p.peek().typ == itemEOF {
			break
		}
		methods = append(methods, p.method())
	}
	if len(methods) == 0 {
		return nil, errors.New("no methods in source")
	}
	return methods, nil
}

// TokenStream outputs the token stream from the given source string.
func TokenStream(src string) error {
	l := newLexer(src, lexGlobal)
	go l.run()
	defer l.stop()

	wr := util.NewWriter()
	defer wr.Close()
	sb := strings.Builder{}
	tw := tabwriter.NewWriter(&sb, 10, 20, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Value\tType\tPosition\n")
	for {
		t := l.nextItem()
		switch t.typ {
		case itemEOF:
			err := tw.Flush()
			wr.Write("%s", sb.String())
			return err
		case itemError:
			_ = tw.Flush()
			wr.Write("%s", sb.String())
			return errors.New(t.val)
		case itemNewline:
			_, _ = fmt.Fprintf(tw, "%q\t%s\tline: %d:%d\n", "\\n", t.typ, t.line, t.pos)
		default:
			if len(t.val) > 20 {
				_, _ = fmt.Fprintf(tw, "%.17q...\t%s\tline: %d:%d\n", t.val, t.typ, t.line, t.pos)
			} else {
				_, _ = fmt.Fprintf(tw, "%q\t%s\tline: %d:%d\n", t.val, t.typ, t.line, t.pos)
			}
		}
	}
}

// ----------------------------
// ----- Token primitives -----
// ----------------------------

// errorf aborts the parse with an error positioned at token t.
func (p *parser) errorf(t item, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if t.typ == itemError {
		msg = t.val
	}
	panic(parseError{err: fmt.Errorf("line %d:%d: %s", t.line, t.pos, msg)})
}

// next consumes and returns the next token.
func (p *parser) next() item {
	if p.peeked {
		p.peeked = false
		return p.tok
	}
	p.tok = p.l.nextItem()
	if p.tok.typ == itemError {
		p.errorf(p.tok, "")
	}
	return p.tok
}

// peek returns, but does not consume, the next token.
func (p *parser) peek() item {
	if !p.peeked {
		p.next()
		p.peeked = true
	}
	return p.tok
}

// expect consumes the next token and aborts the parse unless it is of type typ.
func (p *parser) expect(typ itemType, context string) item {
	t := p.next()
	if t.typ != typ {
		p.errorf(t, "expected %s in %s, got %s", typ, context, t)
	}
	return t
}

// endOfLine consumes the newline ending a declaration or instruction. EOF is accepted as well.
func (p *parser) endOfLine(context string) {
	t := p.next()
	if t.typ != itemNewline && t.typ != itemEOF {
		p.errorf(t, "unexpected %s at end of %s", t, context)
	}
	if t.typ == itemEOF {
		p.peeked = true
	}
}

// skipNewlines consumes empty lines.
func (p *parser) skipNewlines() {
	for p.peek().typ == itemNewline {
		p.next()
	}
}

// name consumes an identifier. Keywords are accepted as names where they are unambiguous.
func (p *parser) name(context string) item {
	t := p.next()
	if t.typ != itemIdentifier && t.typ <= itemKeyword {
		p.errorf(t, "expected name in %s, got %s", context, t)
	}
	return t
}

// number consumes an integer literal.
func (p *parser) number(context string) int64 {
	t := p.expect(itemNumber, context)
	n, err := strconv.ParseInt(t.val, 0, 64)
	if err != nil {
		p.errorf(t, "bad number %q in %s: %s", t.val, context, err)
	}
	return n
}

// ---------------------------
// ----- Grammar methods -----
// ---------------------------

// method parses "method NAME [adapters] NEWLINE decl* block* end".
func (p *parser) method() *eir.Method {
	p.expect(itemMethod, "method header")
	name := p.name("method header")
	p.m = eir.NewMethod(name.val)
	p.values = make(map[string]eir.Value)
	p.masks = make(map[*eir.Variable]types.LocationCategory)
	p.successors = make(map[*eir.Block][]item)
	p.block = nil
	if p.peek().typ == itemAdapters {
		p.next()
		p.m.SetAdapterFrames(true)
	}
	p.endOfLine("method header")

	for {
		p.skipNewlines()
		t := p.peek()
		switch t.typ {
		case itemVar:
			p.variable()
		case itemFixed:
			p.fixed()
		case itemConst:
			p.constant()
		case itemBlock:
			p.blockHeader()
		case itemEnd:
			p.next()
			p.endOfLine("method")
			p.finish(t)
			return p.m
		case itemEOF:
			p.errorf(t, "unexpected EOF in method %s", p.m.Name())
		default:
			if p.block == nil {
				p.errorf(t, "instruction %s outside of block", t)
			}
			p.instruction()
		}
	}
}

// finish resolves block successors and applies variable category masks.
func (p *parser) finish(end item) {
	if len(p.m.Blocks()) == 0 {
		p.errorf(end, "method %s has no blocks", p.m.Name())
	}
	for _, e1 := range p.m.Blocks() {
		for _, e2 := range p.successors[e1] {
			s, ok := p.m.Block(e2.val)
			if !ok {
				p.errorf(e2, "unknown successor block %q", e2.val)
			}
			e1.AddSuccessor(s)
		}
	}
	for v, c := range p.masks {
		for _, e1 := range v.Operands() {
			e1.SetCategories(e1.Categories() & (c | types.Immediate))
		}
		v.ResetLocationCategories()
	}
}

// declare registers value v under name t.
func (p *parser) declare(t item, v eir.Value) {
	if _, ok := p.values[t.val]; ok {
		p.errorf(t, "%q redeclared", t.val)
	}
	p.values[t.val] = v
}

// kind parses "int", "float" or "ref".
func (p *parser) kind(context string) types.Kind {
	t := p.next()
	switch t.typ {
	case itemInt:
		return types.Int
	case itemFloat:
		return types.Float
	case itemRef:
		return types.Reference
	}
	p.errorf(t, "expected kind in %s, got %s", context, t)
	return 0
}

// categories parses "CAT ('|' CAT)*".
func (p *parser) categories(context string) types.LocationCategory {
	var c types.LocationCategory
	for {
		t := p.name(context)
		cat, ok := categoryNames[t.val]
		if !ok {
			p.errorf(t, "unknown location category %q", t.val)
		}
		c |= cat
		if p.peek().typ != itemPipe {
			return c
		}
		p.next()
	}
}

// location parses a register name, "local:N" or "param:N".
func (p *parser) location(context string) eir.Location {
	t := p.name(context)
	if p.peek().typ == itemColon {
		p.next()
		off := int(p.number(context))
		switch t.val {
		case "local":
			return eir.StackSlot{Offset: off, Purpose: eir.Local}
		case "param":
			return eir.StackSlot{Offset: off, Purpose: eir.Parameter}
		}
		p.errorf(t, "unknown stack slot purpose %q", t.val)
	}
	r, ok := p.arch.Lookup(t.val)
	if !ok {
		p.errorf(t, "unknown %s register %q", p.arch.Name(), t.val)
	}
	return r
}

// variable parses "var NAME KIND [CATS]".
func (p *parser) variable() {
	p.next()
	t := p.name("variable declaration")
	v := p.m.NewVariable(t.val, p.kind("variable declaration"))
	p.declare(t, v)
	if p.peek().typ == itemIdentifier {
		p.masks[v] = p.categories("variable declaration")
	}
	p.endOfLine("variable declaration")
}

// fixed parses "fixed NAME KIND LOCATION".
func (p *parser) fixed() {
	p.next()
	t := p.name("fixed declaration")
	k := p.kind("fixed declaration")
	l := p.location("fixed declaration")
	if l.Category().Intersects(types.Registers) && !l.Category().Intersects(k.Registers()) {
		p.errorf(t, "%s value %q cannot reside in %s", k, t.val, l)
	}
	p.declare(t, p.m.NewFixed(t.val, k, l))
	p.endOfLine("fixed declaration")
}

// constant parses "const NAME KIND NUMBER".
func (p *parser) constant() {
	p.next()
	t := p.name("constant declaration")
	k := p.kind("constant declaration")
	p.declare(t, p.m.NewConstant(k, p.number("constant declaration")))
	p.endOfLine("constant declaration")
}

// blockHeader parses "block NAME depth N ['->' NAME+]".
func (p *parser) blockHeader() {
	p.next()
	t := p.name("block header")
	if _, ok := p.m.Block(t.val); ok {
		p.errorf(t, "block %q redeclared", t.val)
	}
	depth := 0
	if p.peek().typ == itemDepth {
		p.next()
		depth = int(p.number("block header"))
		if depth < 0 {
			p.errorf(t, "negative loop depth of block %q", t.val)
		}
	}
	p.block = p.m.NewBlock(t.val, depth)
	if p.peek().typ == itemArrow {
		p.next()
		for p.peek().typ != itemNewline && p.peek().typ != itemEOF {
			p.successors[p.block] = append(p.successors[p.block], p.name("successor list"))
		}
	}
	p.endOfLine("block header")
}

// value resolves the name token t.
func (p *parser) value(t item) eir.Value {
	v, ok := p.values[t.val]
	if !ok {
		p.errorf(t, "undeclared value %q", t.val)
	}
	return v
}

// instruction parses one instruction line.
func (p *parser) instruction() {
	t := p.next()
	var inst *eir.Instruction
	switch t.typ {
	case itemMov:
		dst := p.movOperand(types.Definition)
		src := p.movOperand(types.Use)
		if _, ok := dst.Variable(); !ok {
			p.errorf(t, "assignment to constant %s", dst.Value())
		}
		inst = eir.NewInstruction(types.Assignment, "mov", dst, src)
	case itemOp, itemCall:
		typ := types.Operation
		if t.typ == itemCall {
			typ = types.Call
		}
		op := p.name("instruction mnemonic")
		inst = eir.NewInstruction(typ, op.val, p.operands()...)
	case itemRet:
		inst = eir.NewInstruction(types.Return, "", p.operands()...)
	case itemBr:
		inst = eir.NewInstruction(types.Branch, "", p.operands()...)
	case itemNop:
		inst = eir.NewInstruction(types.Filler, "")
	default:
		p.errorf(t, "expected instruction, got %s", t)
	}
	p.block.Append(inst)
	p.endOfLine("instruction")
}

// movOperand parses "NAME ['@' LOCATION]".
func (p *parser) movOperand(e types.Effect) *eir.Operand {
	v := p.value(p.name("assignment"))
	o := eir.NewOperand(e, v)
	if p.peek().typ == itemAt {
		p.next()
		o.Require(p.location("assignment"))
	}
	return o
}

// operands parses "(EFFECT ':' NAME ['@' LOCATION] ['/' CATS])*".
func (p *parser) operands() []*eir.Operand {
	var ops []*eir.Operand
	for {
		t := p.peek()
		var e types.Effect
		switch t.typ {
		case itemDef:
			e = types.Definition
		case itemUse:
			e = types.Use
		case itemUpd:
			e = types.Update
		default:
			return ops
		}
		p.next()
		p.expect(itemColon, "operand")
		n := p.name("operand")
		v := p.value(n)
		if _, ok := v.(*eir.Constant); ok && e != types.Use {
			p.errorf(n, "constant %q written by %s operand", n.val, e)
		}
		o := eir.NewOperand(e, v)
		if p.peek().typ == itemAt {
			p.next()
			o.Require(p.location("operand"))
		}
		if p.peek().typ == itemSlash {
			p.next()
			c := p.categories("operand")
			if r := o.RequiredLocation(); r != nil {
				c |= r.Category()
			}
			o.Allow(c)
		}
		ops = append(ops, o)
	}
}
