package idgen

import "testing"

func TestLinkIDs_Unique(t *testing.T) {
	g := NewLinkIDs()
	a := g.Generate()
	b := g.Generate()
	if a == b {
		t.Errorf("expected distinct link ids, got %q twice", a)
	}
}

func TestConnectionIDs_Unique(t *testing.T) {
	g := NewConnectionIDs()
	a := g.Generate()
	b := g.Generate()
	if a == b {
		t.Errorf("expected distinct connection ids, got %q twice", a)
	}
}

func TestNewProducerID_Unique(t *testing.T) {
	a, err := NewProducerID()
	if err != nil {
		t.Fatalf("NewProducerID: %v", err)
	}
	b, err := NewProducerID()
	if err != nil {
		t.Fatalf("NewProducerID: %v", err)
	}
	if a == b {
		t.Errorf("expected distinct producer ids, got %x twice", a)
	}
}

func TestPostIDs_Monotonic(t *testing.T) {
	p := NewPostIDs()
	first := p.Next()
	second := p.Next()
	third := p.Next()

	if first != 1 {
		t.Errorf("first = %d, want 1", first)
	}
	if second != 2 {
		t.Errorf("second = %d, want 2", second)
	}
	if third != 3 {
		t.Errorf("third = %d, want 3", third)
	}
}
