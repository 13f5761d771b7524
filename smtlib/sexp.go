package smtlib

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Node is an s-expression: an atom or a list.
type Node struct {
	Atom string
	List []*Node
}

// IsAtom returns true if n is an atom.
func (n *Node) IsAtom() bool { return n.List == nil }

// String returns the node in SMT-LIB2 syntax.
func (n *Node) String() string {
	if n.IsAtom() {
		return n.Atom
	}
	a := make([]string, len(n.List))
	for i, child := range n.List {
		a[i] = child.String()
	}
	return "(" + strings.Join(a, " ") + ")"
}

// ReadNode reads one s-expression, skipping leading whitespace and comments.
func ReadNode(r *bufio.Reader) (*Node, error) {
	if err := skipSpace(r); err != nil {
		return nil, err
	}

	ch, _, err := r.ReadRune()
	if err != nil {
		return nil, err
	}

	switch ch {
	case '(':
		n := &Node{List: []*Node{}}
		for {
			if err := skipSpace(r); err != nil {
				return nil, unexpectedEOF(err)
			}
			if ch, _, err := r.ReadRune(); err != nil {
				return nil, unexpectedEOF(err)
			} else if ch == ')' {
				return n, nil
			}
			_ = r.UnreadRune()

			child, err := ReadNode(r)
			if err != nil {
				return nil, unexpectedEOF(err)
			}
			n.List = append(n.List, child)
		}
	case ')':
		return nil, errors.New("smtlib: unexpected ')'")
	case '"', '|':
		return readQuoted(r, ch)
	default:
		var buf strings.Builder
		buf.WriteRune(ch)
		for {
			ch, _, err := r.ReadRune()
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			} else if ch == '(' || ch == ')' || ch == ';' || isSpace(ch) {
				_ = r.UnreadRune()
				break
			}
			buf.WriteRune(ch)
		}
		return &Node{Atom: buf.String()}, nil
	}
}

func readQuoted(r *bufio.Reader, quote rune) (*Node, error) {
	var buf strings.Builder
	buf.WriteRune(quote)
	for {
		ch, _, err := r.ReadRune()
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		buf.WriteRune(ch)
		if ch != quote {
			continue
		}

		// A doubled quote is an escaped quote in string literals.
		if quote == '"' {
			if next, _, err := r.ReadRune(); err == nil && next == '"' {
				buf.WriteRune(next)
				continue
			} else if err == nil {
				_ = r.UnreadRune()
			}
		}
		return &Node{Atom: buf.String()}, nil
	}
}

func skipSpace(r *bufio.Reader) error {
	for {
		ch, _, err := r.ReadRune()
		if err != nil {
			return err
		} else if ch == ';' {
			if _, err := r.ReadString('\n'); err != nil {
				return err
			}
			continue
		} else if !isSpace(ch) {
			return r.UnreadRune()
		}
	}
}

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ParseBitVec parses a bit-vector literal: #x.., #b.. or (_ bvN w).
func ParseBitVec(n *Node) (*uint256.Int, error) {
	if !n.IsAtom() {
		if len(n.List) == 3 && n.List[0].Atom == "_" && strings.HasPrefix(n.List[1].Atom, "bv") {
			v, err := uint256.FromDecimal(strings.TrimPrefix(n.List[1].Atom, "bv"))
			if err != nil {
				return nil, errors.Wrapf(err, "smtlib: invalid bit-vector %s", n)
			}
			return v, nil
		}
		return nil, errors.Errorf("smtlib: invalid bit-vector %s", n)
	}

	switch {
	case strings.HasPrefix(n.Atom, "#x"):
		v, err := uint256.FromHex("0x" + strings.TrimLeft(n.Atom[2:], "0"))
		if err != nil && strings.TrimLeft(n.Atom[2:], "0") == "" {
			return new(uint256.Int), nil
		} else if err != nil {
			return nil, errors.Wrapf(err, "smtlib: invalid bit-vector %s", n)
		}
		return v, nil
	case strings.HasPrefix(n.Atom, "#b"):
		v := new(uint256.Int)
		for _, ch := range n.Atom[2:] {
			v.Lsh(v, 1)
			if ch == '1' {
				v.Or(v, uint256.NewInt(1))
			} else if ch != '0' {
				return nil, errors.Errorf("smtlib: invalid bit-vector %s", n)
			}
		}
		return v, nil
	default:
		if _, err := strconv.ParseUint(n.Atom, 10, 64); err == nil {
			return uint256.FromDecimal(n.Atom)
		}
		return nil, errors.Errorf("smtlib: invalid bit-vector %s", n)
	}
}
