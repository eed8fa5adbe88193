package policy

import (
	"reflect"
	"sort"
	"testing"
)

func TestLayeredPolicy_CompositionOrder(t *testing.T) {
	p := LayeredPolicy{
		Global: NewLayer(nil, []string{"admin"}),
		Channels: map[string]Layer{
			"slack": NewLayer([]string{"read", "write", "exec"}, nil),
		},
		Agents: map[string]Layer{
			"bot": NewLayer(nil, []string{"exec"}),
		},
	}

	got := p.FilterTools([]string{"read", "write", "exec", "admin"}, "slack", "bot")
	sort.Strings(got)
	want := []string{"read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLayeredPolicy_BlocklistWinsWithinLayer(t *testing.T) {
	layer := NewLayer([]string{"a", "b", "c"}, []string{"b"})
	set := map[string]struct{}{"a": {}, "b": {}, "c": {}, "d": {}}
	applyLayer(set, layer)
	if _, ok := set["b"]; ok {
		t.Error("expected b to be removed by blocklist")
	}
	if _, ok := set["d"]; ok {
		t.Error("expected d to be excluded by allowlist intersection")
	}
	if _, ok := set["a"]; !ok {
		t.Error("expected a to survive")
	}
}

func TestLayeredPolicy_NoAllowlistMeansUnrestricted(t *testing.T) {
	p := LayeredPolicy{Global: NewLayer(nil, nil)}
	got := p.FilterTools([]string{"a", "b"}, "", "")
	if len(got) != 2 {
		t.Errorf("expected both tools through with no restriction, got %v", got)
	}
}

func TestLayeredPolicy_IsToolAllowed(t *testing.T) {
	p := LayeredPolicy{Global: NewLayer([]string{"read"}, nil)}
	if !p.IsToolAllowed("read", "", "") {
		t.Error("expected read to be allowed")
	}
	if p.IsToolAllowed("write", "", "") {
		t.Error("expected write to be disallowed")
	}
}

func TestLoadLayeredPolicy(t *testing.T) {
	cfg := LayeredPolicyConfig{
		Global: LayerConfig{Blocklist: []string{"admin"}},
		Channels: map[string]LayerConfig{
			"cli": {Allowlist: []string{"read", "write"}},
		},
	}
	p := LoadLayeredPolicy(cfg)
	got := p.FilterTools([]string{"read", "write", "admin"}, "cli", "")
	sort.Strings(got)
	want := []string{"read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
