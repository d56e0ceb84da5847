package bmc2

import "fmt"

// Sort represents the type of a symbolic value: a bit-vector of fixed width
// or an array from one sort to another. BTOR2 has no dedicated boolean sort —
// every boolean-valued node is a one-bit bit-vector on the wire — so Bool is
// represented as BitVecSort{Width: WidthBool} rather than a distinct kind.
type Sort interface {
	fmt.Stringer
	// Equal reports whether two sorts are structurally identical.
	Equal(Sort) bool
	sort()
}

// Bool is the one-bit bit-vector sort used for every boolean-valued node.
var Bool Sort = BitVecSort{Width: WidthBool}

// BitVecSort represents a bit-vector of a fixed width.
type BitVecSort struct {
	Width uint
}

func (BitVecSort) sort() {}

// String returns the string representation of the sort.
func (s BitVecSort) String() string {
	if s.Width == WidthBool {
		return "bool"
	}
	return fmt.Sprintf("bv%d", s.Width)
}

// Equal returns true if other is a BitVecSort of the same width.
func (s BitVecSort) Equal(other Sort) bool {
	o, ok := other.(BitVecSort)
	return ok && o.Width == s.Width
}

// ArraySort represents an array from Index to Elem.
type ArraySort struct {
	Index Sort
	Elem  Sort
}

func (ArraySort) sort() {}

// String returns the string representation of the sort.
func (s ArraySort) String() string {
	return fmt.Sprintf("array[%s]%s", s.Index, s.Elem)
}

// Equal returns true if other is an ArraySort with structurally equal Index & Elem.
func (s ArraySort) Equal(other Sort) bool {
	o, ok := other.(ArraySort)
	return ok && o.Index.Equal(s.Index) && o.Elem.Equal(s.Elem)
}

// BitVecWidth returns the width of a bit-vector sort. Panics if s is not a BitVecSort.
func BitVecWidth(s Sort) uint {
	bv, ok := s.(BitVecSort)
	assert(ok, "bmc2.BitVecWidth: not a bit-vector sort: %s", s)
	return bv.Width
}
