package frontend

type reservedItem struct {
	val string
	typ itemType
}

// rw contains the set of all reserved EIR keywords.
// The first dimension equals the length of the word.
// The second dimension is the slice of all words of that length.
// Indexing by length and searching should be faster than using a hash table.
var rw = [...][]reservedItem{
	// One-grams
	{},
	// Two-grams
	{
		{val: "op", typ: itemOp},
		{val: "br", typ: itemBr},
	},
	// Three-grams
	{
		{val: "var", typ: itemVar},
		{val: "end", typ: itemEnd},
		{val: "mov", typ: itemMov},
		{val: "ret", typ: itemRet},
		{val: "nop", typ: itemNop},
		{val: "def", typ: itemDef},
		{val: "use", typ: itemUse},
		{val: "upd", typ: itemUpd},
		{val: "int", typ: itemInt},
		{val: "ref", typ: itemRef},
	},
	// Four-grams
	{
		{val: "call", typ: itemCall},
	},
	// Five-grams
	{
		{val: "fixed", typ: itemFixed},
		{val: "const", typ: itemConst},
		{val: "block", typ: itemBlock},
		{val: "depth", typ: itemDepth},
		{val: "float", typ: itemFloat},
	},
	// Six-grams
	{
		{val: "method", typ: itemMethod},
	},
	// Seven-grams
	{},
	// Eight-grams
	{
		{val: "adapters", typ: itemAdapters},
	},
}

// isKeyword returns true if the string s is a reserved EIR keyword.
// On the return of true the itemType of the keyword is returned.
// On the return of false the itemType is either itemIdentifier or itemError.
func isKeyword(s string) (bool, itemType) {
	if len(s) == 0 {
		return false, itemError
	}
	if len(s) > len(rw) {
		return false, itemIdentifier
	}

	// Check if string s is a reserved word by iterating over all words in rw of length len(s).
	for _, e1 := range rw[len(s)-1] {
		if e1.val == s {
			return true, e1.typ
		}
	}
	return false, itemIdentifier
}

// keywordName returns the keyword of token type t, or the empty string.
func keywordName(t itemType) string {
	for _, e1 := range rw {
		for _, e2 := range e1 {
			if e2.typ == t {
				return e2.val
			}
		}
	}
	return ""
}
