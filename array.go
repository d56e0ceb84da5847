package bmc2

import "fmt"

// Array represents a BTOR2 array-sorted value: a symbolic mapping from
// IndexSort to ElemSort, or a chain of writes rooted at one. Unlike a heap
// memory model, a BTOR2 array's index domain is a full bit-vector range, so
// updates are tracked one element at a time rather than byte-blasted.
type Array struct {
	ID        uint64 // nonzero for a named state/input array; zero for anonymous write chains
	IndexSort Sort
	ElemSort  Sort
	Updates   *ArrayUpdate // linked list of symbolic writes, most recent first
}

// NewArray returns a new named array of the given index/element sorts.
func NewArray(id uint64, indexSort, elemSort Sort) *Array {
	return &Array{ID: id, IndexSort: indexSort, ElemSort: elemSort}
}

// Sort returns the array's sort.
func (a *Array) Sort() Sort { return ArraySort{Index: a.IndexSort, Elem: a.ElemSort} }

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.ID != 0 {
		return fmt.Sprintf("(array #%d %s)", a.ID, a.Sort())
	}
	return fmt.Sprintf("(array %s)", a.Sort())
}

// Clone returns a copy of the array.
func (a *Array) Clone() *Array {
	return &Array{ID: a.ID, IndexSort: a.IndexSort, ElemSort: a.ElemSort, Updates: a.Updates}
}

// Select reads the element at index, folding through the update chain when
// the index is a constant that matches a prior constant write.
func (a *Array) Select(index Expr) Expr {
	assert(index.Sort().Equal(a.IndexSort), "select: index sort mismatch: %s != %s", index.Sort(), a.IndexSort)

	for upd := a.Updates; upd != nil; upd = upd.Next {
		cond, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			break // found symbolic index, stop folding and fall back to SelectExpr
		} else if cond.IsTrue() {
			return upd.Value
		}
	}
	return NewSelectExpr(a, index)
}

// Store writes value at index, returning a new array with the write
// prepended to the update chain. Superseded constant writes to the same
// constant index are pruned.
func (a *Array) Store(index, value Expr) *Array {
	assert(index.Sort().Equal(a.IndexSort), "store: index sort mismatch: %s != %s", index.Sort(), a.IndexSort)
	assert(value.Sort().Equal(a.ElemSort), "store: value sort mismatch: %s != %s", value.Sort(), a.ElemSort)

	other := a.Clone()
	other.Updates = NewArrayUpdate(index, value, pruneUpdates(index, a.Updates))
	return other
}

// pruneUpdates drops every update superseded by a later constant write to
// the same constant index. chain may be aliased by other arrays derived
// from the same base (e.g. two different Stores off one ancestor), so a
// surviving node is never spliced in place — survivors up to the first
// symbolic index are rebuilt into fresh nodes, and the shared tail from
// that symbolic index onward is returned untouched.
func pruneUpdates(index Expr, chain *ArrayUpdate) *ArrayUpdate {
	idx, ok := index.(*ConstantExpr)
	if !ok {
		return chain
	}

	var head, tail *ArrayUpdate
	for upd := chain; upd != nil; upd = upd.Next {
		updIndex, ok := upd.Index.(*ConstantExpr)
		if !ok {
			// symbolic index: stop pruning, keep the rest of the chain shared
			if tail == nil {
				return upd
			}
			tail.Next = upd
			return head
		}
		if idx.Value == updIndex.Value {
			continue // superseded, drop
		}
		nu := &ArrayUpdate{Index: upd.Index, Value: upd.Value}
		if head == nil {
			head = nu
		} else {
			tail.Next = nu
		}
		tail = nu
	}
	return head
}

// IsSymbolic returns true if the array's contents are not fully determined
// by constant writes. Every root array in this domain (state or input) is
// itself symbolic, so the chain is symbolic unless every write in it is
// constant-indexed and constant-valued and the root has no ID of its own.
func (a *Array) IsSymbolic() bool {
	if a.ID != 0 {
		return true
	}
	for upd := a.Updates; upd != nil; upd = upd.Next {
		if !IsConstantExpr(upd.Index) || !IsConstantExpr(upd.Value) {
			return true
		}
	}
	return false
}

// Equal returns a boolean expression stating if a is equal to other.
func (a *Array) Equal(other *Array) Expr {
	return NewBinaryExpr(EQ, a, other)
}

// NotEqual returns a boolean expression stating if a is not equal to other.
func (a *Array) NotEqual(other *Array) Expr {
	return NewUnaryExpr(NOT, a.Equal(other))
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}

	if as, bs := a.Sort().String(), b.Sort().String(); as != bs {
		if as < bs {
			return -1
		}
		return 1
	}

	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate represents a single symbolic write in an array's update chain.
type ArrayUpdate struct {
	Index Expr
	Value Expr

	Next *ArrayUpdate
}

// NewArrayUpdate returns a new instance of ArrayUpdate.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{Index: index, Value: value, Next: next}
}

// CompareArrayUpdate returns an integer comparing two array updates.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	} else if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Next, b.Next)
}

// SelectExpr represents an array read that could not be folded to a
// concrete update at construction time.
type SelectExpr struct {
	Array *Array
	Index Expr
}

// NewSelectExpr returns a new instance of SelectExpr.
func NewSelectExpr(array *Array, index Expr) *SelectExpr {
	return &SelectExpr{Array: array, Index: index}
}

// Sort returns the sort of the expression (the array's element sort).
func (e *SelectExpr) Sort() Sort { return e.Array.ElemSort }

// String returns the string representation of the expression.
func (e *SelectExpr) String() string { return fmt.Sprintf("(select %s %s)", e.Array, e.Index) }
