package segment

import "testing"

func TestAllocCarvesDisjointRegions(t *testing.T) {
	s := New(32)
	a, err := s.Alloc(12)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Alloc(12)
	if err != nil {
		t.Fatal(err)
	}
	a[0] = 1
	b[0] = 2
	if a[0] == b[0] {
		t.Fatal("regions alias")
	}
	if s.Len() != 24 {
		t.Fatalf("Len() = %d, want 24", s.Len())
	}
}

func TestAllocExhaustion(t *testing.T) {
	s := New(8)
	if _, err := s.Alloc(9); err == nil {
		t.Fatal("expected out-of-space error")
	}
	if _, err := s.Alloc(8); err != nil {
		t.Fatalf("exact-fit alloc failed: %v", err)
	}
	if _, err := s.Alloc(1); err == nil {
		t.Fatal("expected exhaustion after exact-fit alloc")
	}
}

func TestAllocNegativeSize(t *testing.T) {
	s := New(4)
	if _, err := s.Alloc(-1); err == nil {
		t.Fatal("expected error for negative size")
	}
}
