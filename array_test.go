package setaac_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/setaac/setaac"
)

func TestArray(t *testing.T) {
	w := setaac.NewWordExpr

	t.Run("Concrete", func(t *testing.T) {
		t.Run("Bool", func(t *testing.T) {
			a := setaac.NewConstantArray(0, "memory", c8(0))
			a = a.Store(w(3), trueExpr)
			if diff := cmp.Diff(trueExpr, a.Select(w(3), 1)); diff != "" {
				t.Fatal(diff)
			} else if diff := cmp.Diff(c8(1), a.Select(w(3), 8)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("BigEndian", func(t *testing.T) {
			a := setaac.NewArray(0, 4)
			a = a.Store(w(0), setaac.NewConstantExpr(0xAABBCCDD, 32))
			if diff := cmp.Diff(setaac.NewConstantExpr(0xAABBCCDD, 32), a.Select(w(0), 32)); diff != "" {
				t.Fatal(diff)
			} else if diff := cmp.Diff(c8(0xBB), a.Select(w(1), 8)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Default", func(t *testing.T) {
			a := setaac.NewConstantArray(0, "memory", c8(0))
			if diff := cmp.Diff(setaac.NewWordExpr(0), a.Select(w(100), 256)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("ErrOutOfBounds", func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			setaac.NewArray(0, 2).Store(w(2), c8(1))
		})
	})

	t.Run("Symbolic", func(t *testing.T) {
		t.Run("SingleByte", func(t *testing.T) {
			a := setaac.NewArray(0, 4)
			if diff := cmp.Diff(&setaac.SelectExpr{Array: a, Index: w(0)}, a.Select(w(0), 8)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("MultiByte", func(t *testing.T) {
			a := setaac.NewArray(0, 4)
			if diff := cmp.Diff(&setaac.ConcatExpr{
				MSB: &setaac.SelectExpr{Array: a, Index: w(0)},
				LSB: &setaac.SelectExpr{Array: a, Index: w(1)},
			}, a.Select(w(0), 16)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("SymbolicIndex", func(t *testing.T) {
			i := sym(2)
			a := setaac.NewArray(1, 4).Store(i, c8(5))

			// A concrete read cannot see past a write at an unknown index.
			expr, ok := a.Select(w(0), 8).(*setaac.SelectExpr)
			if !ok {
				t.Fatal("expected select expr")
			} else if expr.Array.Updates == nil {
				t.Fatal("expected updates")
			}

			// Reading the same index returns the written value.
			if diff := cmp.Diff(c8(5), a.Select(i, 8)); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Shadow", func(t *testing.T) {
			a := setaac.NewArray(1, 4).Store(w(0), c8(1)).Store(w(1), c8(2)).Store(w(0), c8(3))
			if diff := cmp.Diff(setaac.NewArrayUpdate(w(0), c8(3), setaac.NewArrayUpdate(w(1), c8(2), nil)), a.Updates); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Persistent", func(t *testing.T) {
			a := setaac.NewArray(1, 4).Store(w(0), c8(1)).Store(w(1), c8(2))
			b := a.Store(w(0), c8(7))
			c := a.Store(w(2), c8(9))

			if diff := cmp.Diff(c8(1), a.Select(w(0), 8)); diff != "" {
				t.Fatal(diff)
			} else if diff := cmp.Diff(c8(7), b.Select(w(0), 8)); diff != "" {
				t.Fatal(diff)
			} else if diff := cmp.Diff(c8(9), c.Select(w(2), 8)); diff != "" {
				t.Fatal(diff)
			} else if _, ok := a.Select(w(2), 8).(*setaac.SelectExpr); !ok {
				t.Fatal("expected select expr")
			}
		})
	})

	t.Run("Word", func(t *testing.T) {
		s := setaac.NewWordArray(2, "storage").Store(w(7), w(42)).Store(w(1), c8(5))
		if diff := cmp.Diff(w(42), s.Select(w(7), 256)); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(w(5), s.Select(w(1), 256)); diff != "" {
			t.Fatal(diff)
		} else if _, ok := s.Select(w(8), 256).(*setaac.SelectExpr); !ok {
			t.Fatal("expected select expr")
		}
	})
}

func TestArray_Equal(t *testing.T) {
	w := setaac.NewWordExpr

	t.Run("Concrete", func(t *testing.T) {
		a := setaac.NewConstantArray(0, "m", c8(0)).Store(w(0), c8(1))
		b := setaac.NewConstantArray(1, "m", c8(0)).Store(w(0), c8(1))
		c := setaac.NewConstantArray(2, "m", c8(0)).Store(w(0), c8(2))
		if diff := cmp.Diff(trueExpr, a.Equal(b, 2)); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(falseExpr, a.Equal(c, 2)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Symbolic", func(t *testing.T) {
		a, b := setaac.NewArray(2, 2), setaac.NewArray(3, 2)
		if diff := cmp.Diff(&setaac.BinaryExpr{
			Op:  setaac.EQ,
			LHS: &setaac.SelectExpr{Array: a, Index: w(0)},
			RHS: &setaac.SelectExpr{Array: b, Index: w(0)},
		}, a.Equal(b, 1)); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestArray_SymbolName(t *testing.T) {
	if s := setaac.NewNamedArray(3, "calldata", 4).SymbolName(); s != "calldata_3" {
		t.Fatalf("unexpected name: %s", s)
	} else if s := setaac.NewArray(4, 0).SymbolName(); s != "array_4" {
		t.Fatalf("unexpected name: %s", s)
	} else if s := setaac.NewNamedArray(3, "calldata", 4).String(); s != "(array calldata#3)" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestArray_Root(t *testing.T) {
	a := setaac.NewArray(1, 4).Store(setaac.NewWordExpr(0), c8(1))
	root := a.Root()
	if root.Updates != nil {
		t.Fatal("expected no updates")
	} else if root.ID != 1 || root.Size != 4 {
		t.Fatalf("unexpected root: %v", root)
	} else if a.Updates == nil {
		t.Fatal("original array modified")
	}
}

func TestCompareArray(t *testing.T) {
	a := setaac.NewArray(1, 4)
	if cmp := setaac.CompareArray(a, setaac.NewArray(2, 4)); cmp != -1 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := setaac.CompareArray(a, setaac.NewArray(1, 4)); cmp != 0 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := setaac.CompareArray(a.Store(setaac.NewWordExpr(0), c8(1)), a); cmp != 1 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := setaac.CompareArray(nil, a); cmp != -1 {
		t.Fatalf("unexpected result: %d", cmp)
	}
}
