package smtlib

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/setaac/setaac"
	"golang.org/x/exp/slices"
)

// Logic is the SMT-LIB2 logic every query is stated in.
const Logic = "QF_ABV"

// Query is the SMT-LIB2 rendering of a set of constraints.
type Query struct {
	decls   map[string]string // symbol -> declaration
	asserts []string
	cache   map[setaac.Expr]string
}

// NewQuery renders constraints. Arrays with a default value are lowered
// to if-then-else chains so the query only declares symbolic arrays.
func NewQuery(constraints []setaac.Expr) (*Query, error) {
	q := &Query{
		decls: make(map[string]string),
		cache: make(map[setaac.Expr]string),
	}
	for _, c := range constraints {
		if w := setaac.ExprWidth(c); w != setaac.WidthBool {
			return nil, errors.Errorf("smtlib: constraint has width %d", w)
		}
		s, err := q.term(c)
		if err != nil {
			return nil, err
		}
		q.asserts = append(q.asserts, s)
	}
	return q, nil
}

// WriteTo writes the declarations and assertions followed by check-sat.
func (q *Query) WriteTo(w io.Writer) (int64, error) {
	var buf strings.Builder
	fmt.Fprintf(&buf, "(set-option :produce-models true)\n(set-logic %s)\n", Logic)

	names := make([]string, 0, len(q.decls))
	for name := range q.decls {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		buf.WriteString(q.decls[name])
		buf.WriteByte('\n')
	}

	for _, a := range q.asserts {
		fmt.Fprintf(&buf, "(assert %s)\n", a)
	}
	buf.WriteString("(check-sat)\n")

	n, err := io.WriteString(w, buf.String())
	return int64(n), err
}

// Declare adds declarations for arrays the constraints may not mention.
func (q *Query) Declare(arrays []*setaac.Array) {
	for _, a := range arrays {
		if a.IsSymbolic() {
			q.declareArray(a.Root())
		}
	}
}

// modeled returns true if a model value is extracted for the array.
func modeled(a *setaac.Array) bool {
	return a.IsSymbolic() && a.Range == setaac.Width8 && a.Size > 0
}

// GetValue returns a get-value command for the first Size bytes of each
// symbolic byte array, in order. Returns empty if there is nothing to get.
func GetValue(arrays []*setaac.Array) string {
	var n int
	var buf strings.Builder
	buf.WriteString("(get-value (")
	for _, a := range arrays {
		if !modeled(a) {
			continue
		}
		n++
		for i := uint(0); i < a.Size; i++ {
			fmt.Fprintf(&buf, " (select %s %s)", a.SymbolName(), bv(uint64(i), a.Domain))
		}
	}
	buf.WriteString("))\n")
	if n == 0 {
		return ""
	}
	return buf.String()
}

// declareArray records the declaration of a symbolic root array.
func (q *Query) declareArray(a *setaac.Array) string {
	name := a.SymbolName()
	if _, ok := q.decls[name]; !ok {
		q.decls[name] = fmt.Sprintf("(declare-fun %s () (Array (_ BitVec %d) (_ BitVec %d)))", name, a.Domain, a.Range)
	}
	return name
}

// term renders an expression. One-bit expressions are rendered as Bool.
func (q *Query) term(expr setaac.Expr) (string, error) {
	if s, ok := q.cache[expr]; ok {
		return s, nil
	}

	var s string
	var err error
	switch expr := expr.(type) {
	case *setaac.ConstantExpr:
		s = constant(expr)
	case *setaac.SelectExpr:
		s, err = q.selectTerm(expr)
	case *setaac.ConcatExpr:
		s, err = q.binaryTerm("concat", expr.MSB, expr.LSB, true)
	case *setaac.ExtractExpr:
		s, err = q.extractTerm(expr)
	case *setaac.CastExpr:
		s, err = q.castTerm(expr)
	case *setaac.IteExpr:
		s, err = q.iteTerm(expr)
	case *setaac.NotExpr:
		var src string
		if src, err = q.term(expr.Expr); err == nil {
			if setaac.ExprWidth(expr.Expr) == setaac.WidthBool {
				s = fmt.Sprintf("(not %s)", src)
			} else {
				s = fmt.Sprintf("(bvnot %s)", src)
			}
		}
	case *setaac.BinaryExpr:
		s, err = q.binaryExprTerm(expr)
	default:
		return "", errors.Errorf("smtlib: invalid expression type: %T", expr)
	}
	if err != nil {
		return "", err
	}
	q.cache[expr] = s
	return s, nil
}

// bvTerm renders an expression as a bit-vector, converting booleans.
func (q *Query) bvTerm(expr setaac.Expr) (string, error) {
	s, err := q.term(expr)
	if err != nil {
		return "", err
	} else if setaac.ExprWidth(expr) == setaac.WidthBool {
		return fmt.Sprintf("(ite %s #b1 #b0)", s), nil
	}
	return s, nil
}

func constant(expr *setaac.ConstantExpr) string {
	if expr.Width == setaac.WidthBool {
		if expr.IsTrue() {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("(_ bv%s %d)", expr.Value.Dec(), expr.Width)
}

func bv(v uint64, width uint) string {
	return fmt.Sprintf("(_ bv%d %d)", v, width)
}

func (q *Query) selectTerm(expr *setaac.SelectExpr) (string, error) {
	index, err := q.term(expr.Index)
	if err != nil {
		return "", err
	}

	// Concrete arrays: select(store(...store(c, i1, v1)..., in, vn), x)
	// becomes ite(x = in, vn, ... ite(x = i1, v1, c)).
	if a := expr.Array; a.Default != nil {
		var updates []*setaac.ArrayUpdate
		for upd := a.Updates; upd != nil; upd = upd.Next {
			updates = append(updates, upd)
		}
		s := constant(a.Default)
		for i := len(updates) - 1; i >= 0; i-- {
			idx, err := q.term(updates[i].Index)
			if err != nil {
				return "", err
			}
			value, err := q.bvTerm(updates[i].Value)
			if err != nil {
				return "", err
			}
			s = fmt.Sprintf("(ite (= %s %s) %s %s)", index, idx, value, s)
		}
		return s, nil
	}

	array, err := q.arrayTerm(expr.Array.Root(), expr.Array.Updates)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(select %s %s)", array, index), nil
}

func (q *Query) arrayTerm(root *setaac.Array, upd *setaac.ArrayUpdate) (string, error) {
	if upd == nil {
		return q.declareArray(root), nil
	}
	array, err := q.arrayTerm(root, upd.Next)
	if err != nil {
		return "", err
	}
	index, err := q.term(upd.Index)
	if err != nil {
		return "", err
	}
	value, err := q.bvTerm(upd.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(store %s %s %s)", array, index, value), nil
}

func (q *Query) extractTerm(expr *setaac.ExtractExpr) (string, error) {
	src, err := q.bvTerm(expr.Expr)
	if err != nil {
		return "", err
	}
	if expr.Width == setaac.WidthBool {
		return fmt.Sprintf("(= ((_ extract %d %d) %s) #b1)", expr.Offset, expr.Offset, src), nil
	}
	return fmt.Sprintf("((_ extract %d %d) %s)", expr.Offset+expr.Width-1, expr.Offset, src), nil
}

func (q *Query) castTerm(expr *setaac.CastExpr) (string, error) {
	src, err := q.term(expr.Src)
	if err != nil {
		return "", err
	}

	if setaac.ExprWidth(expr.Src) == setaac.WidthBool {
		whenTrue := bv(1, expr.Width)
		if expr.Signed {
			whenTrue = fmt.Sprintf("(bvnot %s)", bv(0, expr.Width))
		}
		return fmt.Sprintf("(ite %s %s %s)", src, whenTrue, bv(0, expr.Width)), nil
	}

	ext := "zero_extend"
	if expr.Signed {
		ext = "sign_extend"
	}
	return fmt.Sprintf("((_ %s %d) %s)", ext, expr.Width-setaac.ExprWidth(expr.Src), src), nil
}

func (q *Query) iteTerm(expr *setaac.IteExpr) (string, error) {
	cond, err := q.term(expr.Cond)
	if err != nil {
		return "", err
	}
	then, err := q.term(expr.Then)
	if err != nil {
		return "", err
	}
	els, err := q.term(expr.Else)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(ite %s %s %s)", cond, then, els), nil
}

var bvOps = map[setaac.BinaryOp]string{
	setaac.ADD:  "bvadd",
	setaac.SUB:  "bvsub",
	setaac.MUL:  "bvmul",
	setaac.UDIV: "bvudiv",
	setaac.SDIV: "bvsdiv",
	setaac.UREM: "bvurem",
	setaac.SREM: "bvsrem",
	setaac.AND:  "bvand",
	setaac.OR:   "bvor",
	setaac.XOR:  "bvxor",
	setaac.SHL:  "bvshl",
	setaac.LSHR: "bvlshr",
	setaac.ASHR: "bvashr",
	setaac.EQ:   "=",
	setaac.NE:   "distinct",
	setaac.ULT:  "bvult",
	setaac.ULE:  "bvule",
	setaac.UGT:  "bvugt",
	setaac.UGE:  "bvuge",
	setaac.SLT:  "bvslt",
	setaac.SLE:  "bvsle",
	setaac.SGT:  "bvsgt",
	setaac.SGE:  "bvsge",
}

var boolOps = map[setaac.BinaryOp]string{
	setaac.AND: "and",
	setaac.OR:  "or",
	setaac.XOR: "xor",
	setaac.EQ:  "=",
	setaac.NE:  "distinct",
}

func (q *Query) binaryExprTerm(expr *setaac.BinaryExpr) (string, error) {
	if setaac.ExprWidth(expr.LHS) == setaac.WidthBool {
		if op, ok := boolOps[expr.Op]; ok {
			return q.binaryTerm(op, expr.LHS, expr.RHS, false)
		}
	}
	op, ok := bvOps[expr.Op]
	if !ok {
		return "", errors.Errorf("smtlib: unexpected operation: %s", expr.Op)
	}
	return q.binaryTerm(op, expr.LHS, expr.RHS, true)
}

func (q *Query) binaryTerm(op string, lhs, rhs setaac.Expr, bitvec bool) (string, error) {
	render := q.term
	if bitvec {
		render = q.bvTerm
	}
	l, err := render(lhs)
	if err != nil {
		return "", err
	}
	r, err := render(rhs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", op, l, r), nil
}
