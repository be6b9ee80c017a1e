package stats

import "testing"

func TestIntAddAndValue(t *testing.T) {
	m := NewMap()
	m.Int("sent").Add(3)
	m.Int("sent").Add(4)
	if got := m.Int("sent").Value(); got != 7 {
		t.Fatalf("Value() = %d, want 7", got)
	}
}

func TestMapStringSortedByName(t *testing.T) {
	m := NewMap()
	m.Int("recvRemote").Set(2)
	m.Int("overflow").Set(0)
	m.Int("sent").Set(5)
	if got, want := m.String(), "overflow=0 recvRemote=2 sent=5"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
