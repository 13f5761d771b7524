package setaac

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Array represents a symbolic array of fixed-width elements.
//
// Memory and calldata are byte arrays (Range == 8) indexed by 256-bit words.
// Storage is a word array (Range == 256). Scalar symbols are word-sized
// selections from their own small byte arrays.
type Array struct {
	ID      uint64        // unique id
	Name    string        // solver symbol prefix
	Size    uint          // bytes extracted from a model; zero if unbounded
	Domain  uint          // index width, in bits
	Range   uint          // element width, in bits
	Default *ConstantExpr // value of unwritten elements; nil if symbolic
	Updates *ArrayUpdate  // linked list of symbolic updates
}

// NewArray returns a new symbolic byte array of the given size.
func NewArray(id uint64, size uint) *Array {
	return &Array{
		ID:     id,
		Size:   size,
		Domain: WidthWord,
		Range:  Width8,
	}
}

// NewNamedArray returns a new symbolic byte array with a solver symbol name.
func NewNamedArray(id uint64, name string, size uint) *Array {
	a := NewArray(id, size)
	a.Name = name
	return a
}

// NewWordArray returns a new symbolic array of 256-bit words.
func NewWordArray(id uint64, name string) *Array {
	return &Array{
		ID:     id,
		Name:   name,
		Domain: WidthWord,
		Range:  WidthWord,
	}
}

// NewConstantArray returns an array whose elements all start as value.
func NewConstantArray(id uint64, name string, value *ConstantExpr) *Array {
	return &Array{
		ID:      id,
		Name:    name,
		Domain:  WidthWord,
		Range:   value.Width,
		Default: value,
	}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array %s#%d)", a.Name, a.ID)
	}
	return fmt.Sprintf("(array #%d)", a.ID)
}

// SymbolName returns the name used for the array in solver queries.
func (a *Array) SymbolName() string {
	if a.Name != "" {
		return fmt.Sprintf("%s_%d", a.Name, a.ID)
	}
	return fmt.Sprintf("array_%d", a.ID)
}

// Clone returns a copy of the array. The update chain is shared.
func (a *Array) Clone() *Array {
	other := *a
	return &other
}

// Root returns the array without any updates.
func (a *Array) Root() *Array {
	if a.Updates == nil {
		return a
	}
	other := a.Clone()
	other.Updates = nil
	return other
}

// Select reads a big-endian value of width bits starting at offset.
// Byte arrays concatenate consecutive elements; word arrays require a
// word-sized read.
func (a *Array) Select(offset Expr, width uint) Expr {
	assert(width > 0, "select: invalid width")
	offset = newZExtExpr(offset, a.Domain)

	if a.Range != Width8 {
		assert(width == a.Range, "select: width %d does not match element width %d", width, a.Range)
		return a.selectElem(offset)
	}

	if width == WidthBool {
		return NewExtractExpr(a.selectElem(offset), 0, WidthBool)
	}

	assert(width%8 == 0, "select: width must be byte aligned: %d", width)
	var result Expr
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		value := a.selectElem(NewBinaryExpr(ADD, offset, NewConstantExpr(i, a.Domain)))
		if i == 0 {
			result = value
		} else {
			result = NewConcatExpr(result, value)
		}
	}
	return result
}

// selectElem reads a single element from the array.
//
// Attempts to find a concrete value by traversing the array update history.
// Falls back to a select expression if either the selected index or an update's
// index is symbolic.
func (a *Array) selectElem(index Expr) Expr {
	assert(ExprWidth(index) == a.Domain, "selectElem: invalid array index width: %d", ExprWidth(index))
	for upd := a.Updates; upd != nil; upd = upd.Next {
		cond, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			return NewSelectExpr(a, index) // found symbolic index, exit
		} else if cond.IsTrue() {
			return upd.Value
		}
	}

	if a.Default != nil && IsConstantExpr(index) {
		return a.Default
	}
	return NewSelectExpr(a, index)
}

// Store writes a big-endian value at an offset. Returns a new copy of the array.
func (a *Array) Store(offset, value Expr) *Array {
	other := a.Clone()
	offset = newZExtExpr(offset, a.Domain)

	width := ExprWidth(value)
	assert(width > 0, "store: invalid width")

	if a.Range != Width8 {
		other.storeElem(offset, newZExtExpr(value, a.Range))
		return other
	}

	// Treat bool specially, it is the only non-byte sized write we allow.
	if width == WidthBool {
		other.storeElem(offset, newZExtExpr(value, Width8))
		return other
	}

	assert(width%8 == 0, "store: width must be byte aligned: %d", width)
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		index := NewBinaryExpr(ADD, offset, NewConstantExpr(i, a.Domain))
		other.storeElem(index, NewExtractExpr(value, uint(n-i-1)*8, Width8))
	}
	return other
}

// storeElem writes a single element to the array in-place.
// Only the receiver's head is modified; update nodes reachable from other
// arrays are never changed.
func (a *Array) storeElem(index, value Expr) {
	assert(ExprWidth(index) == a.Domain, "storeElem: invalid array index width: %d", ExprWidth(index))
	assert(ExprWidth(value) == a.Range, "storeElem: invalid value width: %d", ExprWidth(value))

	// Verify constant is not out of bounds.
	if index, ok := index.(*ConstantExpr); ok && a.Size > 0 {
		assert(index.Value.IsUint64() && index.Value.Uint64() < uint64(a.Size), "storeElem: index out of bounds: %s >= %d", index.Value.Dec(), a.Size)
	}

	a.Updates = NewArrayUpdate(index, value, shadowUpdate(a.Updates, index))
}

// shadowUpdate returns the chain with an earlier write to a constant index
// removed. Nodes ahead of the removed one are copied; the tail is shared.
func shadowUpdate(head *ArrayUpdate, index Expr) *ArrayUpdate {
	idx, ok := index.(*ConstantExpr)
	if !ok || head == nil {
		return head
	}

	var prefix []*ArrayUpdate
	for upd := head; upd != nil; upd = upd.Next {
		updIndex, ok := upd.Index.(*ConstantExpr)
		if !ok {
			return head // symbolic index
		} else if updIndex.Value.Eq(&idx.Value) {
			next := upd.Next
			for i := len(prefix) - 1; i >= 0; i-- {
				next = &ArrayUpdate{Index: prefix[i].Index, Value: prefix[i].Value, Next: next}
			}
			return next
		}
		prefix = append(prefix, upd)
	}
	return head
}

// IsSymbolic returns true if unwritten elements of the array are unconstrained.
func (a *Array) IsSymbolic() bool {
	return a.Default == nil
}

// Equal returns a boolean expression stating if the first n bytes of a and
// other are equal. Both must be byte arrays.
func (a *Array) Equal(other *Array, n uint) Expr {
	assert(a.Range == Width8 && other.Range == Width8, "equal: byte arrays required")

	var cond Expr = NewBoolConstantExpr(true)
	for i := uint(0); i < n; i++ {
		index := NewConstantExpr(uint64(i), a.Domain)
		expr := newEqExpr(a.selectElem(index), other.selectElem(index))
		if IsConstantFalse(expr) {
			return NewBoolConstantExpr(false)
		}
		cond = newAndExpr(cond, expr)
	}
	return cond
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

	if a.Range < b.Range {
		return -1
	} else if a.Range > b.Range {
		return 1
	}

	if cmp := CompareExpr(exprOrNil(a.Default), exprOrNil(b.Default)); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Updates, b.Updates)
}

func exprOrNil(e *ConstantExpr) Expr {
	if e == nil {
		return nil
	}
	return e
}

// ArrayUpdate represents a symbolic update to an array.
type ArrayUpdate struct {
	Index Expr // element index of update
	Value Expr // element value to update

	Next *ArrayUpdate // linked list of next update
}

// NewArrayUpdate returns a new instance of ArrayUpdate.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{
		Index: index,
		Value: value,
		Next:  next,
	}
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

// sortArrays orders arrays by id.
func sortArrays(a []*Array) {
	slices.SortFunc(a, func(x, y *Array) int {
		if x.ID < y.ID {
			return -1
		} else if x.ID > y.ID {
			return 1
		}
		return 0
	})
}
