package setaac

import (
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// shaRecord is a hash-derived base address and the input it was derived from.
type shaRecord struct {
	input []Expr // bytes; nil when the input length is symbolic
	base  Expr
}

// SHACount returns the number of recorded hash-derived base addresses.
func (s *ConstraintStore) SHACount() int { return s.shas.Len() }

// SHABases returns the recorded base addresses in allocation order.
func (s *ConstraintStore) SHABases() []Expr {
	a := make([]Expr, 0, s.shas.Len())
	itr := s.shas.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(*shaRecord).base)
	}
	return a
}

// SHA returns the hash of a byte sequence. Fully concrete input is hashed
// with Keccak-256. Otherwise the result is a fresh symbolic base from
// newBase, constrained to lie at least the minimum distance from every
// previously recorded base. Hashing the same input twice yields the same base.
//
// Once the record budget is spent, new bases are returned without distance
// axioms and are not recorded. This over-approximates: aliasing between
// such a base and any other region is not excluded.
func (s *ConstraintStore) SHA(input []Expr, newBase func() Expr) Expr {
	if input != nil {
		if digest, ok := keccakConstant(input); ok {
			return digest
		}
		if base, ok := s.lookupSHA(input); ok {
			return base
		}
	}

	base := newBase()
	if s.shas.Len() >= s.maxSHASize {
		s.logger.Warn().Int("max_sha_size", s.maxSHASize).Msg("sha record budget exhausted; base address is unconstrained")
		return base
	}

	minDistance := NewWordExpr(s.minSHADistance)
	itr := s.shas.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		s.Add(NewBinaryExpr(UGE, absDiffExpr(base, v.(*shaRecord).base), minDistance))
	}
	s.shas = s.shas.Append(&shaRecord{input: input, base: base})
	return base
}

func (s *ConstraintStore) lookupSHA(input []Expr) (Expr, bool) {
	itr := s.shas.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		if rec := v.(*shaRecord); equalExprs(rec.input, input) {
			return rec.base, true
		}
	}
	return nil, false
}

// absDiffExpr returns |a - b| without wrapping.
func absDiffExpr(a, b Expr) Expr {
	return NewIteExpr(NewBinaryExpr(UGE, a, b), NewBinaryExpr(SUB, a, b), NewBinaryExpr(SUB, b, a))
}

// keccakConstant returns the Keccak-256 digest of input if every byte is constant.
func keccakConstant(input []Expr) (*ConstantExpr, bool) {
	buf := make([]byte, len(input))
	for i, b := range input {
		c, ok := b.(*ConstantExpr)
		if !ok {
			return nil, false
		}
		buf[i] = byte(c.Uint64())
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	return NewConstantExprFromInt(new(uint256.Int).SetBytes(h.Sum(nil)), WidthWord), true
}

func equalExprs(a, b []Expr) bool {
	if a == nil || b == nil || len(a) != len(b) {
		return false
	}
	for i := range a {
		if CompareExpr(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}
