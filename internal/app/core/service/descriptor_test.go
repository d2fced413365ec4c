package service

import "testing"

func TestWithCapabilitiesCopies(t *testing.T) {
	base := Descriptor{Name: "rounds", Capabilities: []string{"rounds"}}
	extended := base.WithCapabilities("budget")

	if len(base.Capabilities) != 1 {
		t.Fatalf("base descriptor mutated: %v", base.Capabilities)
	}
	if len(extended.Capabilities) != 2 || extended.Capabilities[1] != "budget" {
		t.Fatalf("unexpected capabilities %v", extended.Capabilities)
	}
	if same := base.WithCapabilities(); len(same.Capabilities) != 1 {
		t.Fatalf("expected no-op for empty capabilities")
	}
}

type staticDescriber Descriptor

func (d staticDescriber) Descriptor() Descriptor { return Descriptor(d) }

func TestCollectSkipsNil(t *testing.T) {
	got := Collect(staticDescriber{Name: "a"}, nil, staticDescriber{Name: "b"})
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("unexpected descriptors %+v", got)
	}
}
