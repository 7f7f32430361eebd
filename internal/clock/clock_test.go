package clock

import "testing"

func TestTickMonotone(t *testing.T) {
	c := New()
	c = Tick(c, "A")
	if c.Get("A") != 1 {
		t.Fatalf("Get(A) = %d, want 1", c.Get("A"))
	}
	c = Tick(c, "A")
	if c.Get("A") != 2 {
		t.Fatalf("Get(A) = %d, want 2", c.Get("A"))
	}
}

func TestCompareReflexive(t *testing.T) {
	c := Clock{"A": 3, "B": 2}
	if got := Compare(c, c.Clone()); got != Equal {
		t.Fatalf("Compare(a, a) = %s, want Equal", got)
	}
}

func TestCompareMissingEntriesAreZero(t *testing.T) {
	a := Clock{"A": 1}
	b := Clock{}
	if got := Compare(a, b); got != After {
		t.Fatalf("Compare(a, b) = %s, want After", got)
	}
	if got := Compare(b, a); got != Before {
		t.Fatalf("Compare(b, a) = %s, want Before", got)
	}
}

func TestCompareBeforeAfterAntiSymmetric(t *testing.T) {
	a := Clock{"A": 1, "B": 2}
	b := Clock{"A": 1, "B": 3}
	if got := Compare(a, b); got != Before {
		t.Fatalf("Compare(a, b) = %s, want Before", got)
	}
	if got := Compare(b, a); got != After {
		t.Fatalf("Compare(b, a) = %s, want After", got)
	}
}

func TestCompareConcurrent(t *testing.T) {
	base := Clock{"A": 3, "B": 2}
	a := Tick(base.Clone(), "A")
	b := Tick(base.Clone(), "B")
	if got := Compare(a, b); got != Concurrent {
		t.Fatalf("Compare(a, b) = %s, want Concurrent", got)
	}
	if got := Compare(b, a); got != Concurrent {
		t.Fatalf("Compare(b, a) = %s, want Concurrent", got)
	}
}

func TestMergeCommutativeAssociative(t *testing.T) {
	a := Clock{"A": 5, "B": 1}
	b := Clock{"A": 2, "C": 7}
	c := Clock{"B": 9}

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !sameClock(ab, ba) {
		t.Fatalf("Merge not commutative: %v vs %v", ab, ba)
	}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	if !sameClock(left, right) {
		t.Fatalf("Merge not associative: %v vs %v", left, right)
	}
}

func TestMergeDominatesAfterConcurrent(t *testing.T) {
	base := Clock{"A": 3, "B": 2}
	a := Tick(base.Clone(), "A")
	b := Tick(base.Clone(), "B")

	if Compare(a, b) != Concurrent {
		t.Fatalf("expected precondition Concurrent")
	}

	m := Merge(a, b)
	if Compare(m, a) != After && Compare(m, a) != Equal {
		t.Fatalf("merged clock does not dominate a: %s", Compare(m, a))
	}
	if Compare(m, b) != After && Compare(m, b) != Equal {
		t.Fatalf("merged clock does not dominate b: %s", Compare(m, b))
	}
}

func TestMergeThenCompareBeforeYieldsEqual(t *testing.T) {
	a := Clock{"A": 1}
	b := Clock{"A": 1, "B": 1}
	if Compare(a, b) != Before {
		t.Fatalf("precondition failed: Compare(a,b) = %s", Compare(a, b))
	}
	m := Merge(a, b)
	if Compare(m, b) != Equal {
		t.Fatalf("Compare(merge(a,b), b) = %s, want Equal", Compare(m, b))
	}
}

func sameClock(a, b Clock) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
