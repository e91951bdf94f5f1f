package minmax

import (
	"testing"

	"github.com/arcterra/globecache/internal/tilecode"
)

func TestInsertMonotoneCoverPropagatesToAncestors(t *testing.T) {
	tr := New(16, nil)
	root := tilecode.Pack(0, 0, 0)
	child := root.Refine(tilecode.UpperRight)
	grandchild := child.Refine(tilecode.LowerLeft)

	tr.Insert(grandchild, Bounds{Min: 10, Max: 20})

	for _, code := range []tilecode.Code{grandchild, child, root} {
		b, ok := tr.Query(code)
		if !ok {
			t.Fatalf("Query(%v) not found", code)
		}
		if !b.Covers(Bounds{Min: 10, Max: 20}) {
			t.Errorf("ancestor %v bounds %+v do not cover inserted interval", code, b)
		}
	}
}

func TestInsertStopsEarlyWhenAncestorAlreadyCovers(t *testing.T) {
	tr := New(16, nil)
	root := tilecode.Pack(0, 0, 0)
	child := root.Refine(tilecode.LowerLeft)

	tr.Insert(root, Bounds{Min: -100, Max: 100})
	tr.Insert(child, Bounds{Min: 0, Max: 1})

	got, _ := tr.Query(root)
	if got.Min != -100 || got.Max != 100 {
		t.Errorf("root bounds mutated by a child already covered: %+v", got)
	}
}

func TestQueryWalksUpToNearestStoredAncestor(t *testing.T) {
	tr := New(16, nil)
	root := tilecode.Pack(2, 0, 0)
	deep := root.Refine(tilecode.UpperLeft).Refine(tilecode.UpperLeft).Refine(tilecode.LowerRight)

	tr.Insert(root, Bounds{Min: 1, Max: 2})
	b, ok := tr.Query(deep)
	if !ok || b.Min != 1 || b.Max != 2 {
		t.Errorf("Query(deep) = %+v,%v, want root's bounds", b, ok)
	}
}

func TestQueryOnEmptyTreeFails(t *testing.T) {
	tr := New(16, nil)
	if _, ok := tr.Query(tilecode.Pack(0, 0, 0)); ok {
		t.Error("Query on empty tree should fail")
	}
}

func TestModifyUsesTrueMaximumAcrossSiblings(t *testing.T) {
	tr := New(16, nil)
	root := tilecode.Pack(0, 0, 0)
	ll := root.Refine(tilecode.LowerLeft)
	lr := root.Refine(tilecode.LowerRight)

	tr.Insert(ll, Bounds{Min: 0, Max: 5})
	tr.Insert(lr, Bounds{Min: -3, Max: 50})

	// Modify one sibling so re-aggregation must recompute the parent from
	// scratch rather than retain a previously monotone-widened interval.
	tr.Modify(ll, Bounds{Min: -1, Max: 1})

	got, ok := tr.Query(root)
	if !ok {
		t.Fatal("root bounds missing after Modify")
	}
	// The true maximum across {ll:1, lr:50} is 50, not min(1,50).
	if got.Max != 50 {
		t.Errorf("root.Max = %v, want 50 (true maximum of children, not min)", got.Max)
	}
	if got.Min != -3 {
		t.Errorf("root.Min = %v, want -3", got.Min)
	}
}

func TestModifyOfUnknownCodeIsNoop(t *testing.T) {
	tr := New(16, nil)
	root := tilecode.Pack(0, 0, 0)
	tr.Modify(root, Bounds{Min: 1, Max: 2})
	if _, ok := tr.Query(root); ok {
		t.Error("Modify of a never-inserted code should not create an entry")
	}
}

func TestPushAndDrain(t *testing.T) {
	tr := New(4, nil)
	code := tilecode.Pack(1, 1, 1)
	tr.Push(code, Bounds{Min: 3, Max: 7})
	tr.Push(code.Coarsen(), Bounds{Min: 0, Max: 0})

	n := tr.Drain()
	if n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if b, ok := tr.Query(code); !ok || b.Min != 3 {
		t.Errorf("Query after Drain = %+v,%v", b, ok)
	}
}
