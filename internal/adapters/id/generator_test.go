package id

import (
	"strings"
	"testing"
)

func TestGenerator_Prefixes(t *testing.T) {
	g := New()
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"server", g.GenerateMCPServerID, PrefixMCPServer},
		{"tool", g.GenerateMCPToolID, PrefixMCPTool},
		{"user config", g.GenerateUserServerConfigID, PrefixUserServerConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			if !strings.HasPrefix(got, tt.prefix+"_") {
				t.Errorf("id %q missing prefix %q", got, tt.prefix)
			}
			if len(got) != len(tt.prefix)+1+idLength {
				t.Errorf("id %q has length %d", got, len(got))
			}
			if !HasPrefix(got, tt.prefix) {
				t.Errorf("HasPrefix(%q, %q) = false", got, tt.prefix)
			}
		})
	}
}

func TestGenerator_Unique(t *testing.T) {
	g := New()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := g.GenerateMCPServerID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestHasPrefix(t *testing.T) {
	if HasPrefix("amcp_", PrefixMCPServer) {
		t.Error("empty suffix should not match")
	}
	if HasPrefix("amct_abc", PrefixMCPServer) {
		t.Error("wrong prefix should not match")
	}
}
