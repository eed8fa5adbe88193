package policy

// LayeredPolicy implements the exact compositional tool-filtering algorithm
// from spec.md §4.4, grounded on original_source's LayeredToolPolicy: a
// global layer, a set of per-channel layers, and a set of per-agent layers,
// applied in that order. Within each layer, names are first intersected with
// the layer's allowlist (if any is set) and then have the layer's blocklist
// subtracted — blocklist always wins.
//
// This sits alongside the richer teacher Resolver (groups, aliases, MCP
// server/tool scoping in resolver.go) as the outermost, spec-exact filter:
// Resolver expands group/alias names into a concrete tool-name set first,
// then LayeredPolicy narrows that set per spec.md's contract.
type LayeredPolicy struct {
	Global   Layer
	Channels map[string]Layer
	Agents   map[string]Layer
}

// Layer is one allow/block rule set.
type Layer struct {
	Allowlist map[string]struct{} // nil means "no restriction"
	Blocklist map[string]struct{}
}

// NewLayer builds a Layer from slices, treating a nil/empty allowlist slice
// as "no restriction" (spec.md: "allowlist is an intersection" only when
// present).
func NewLayer(allow, block []string) Layer {
	l := Layer{Blocklist: map[string]struct{}{}}
	if len(allow) > 0 {
		l.Allowlist = make(map[string]struct{}, len(allow))
		for _, name := range allow {
			l.Allowlist[name] = struct{}{}
		}
	}
	for _, name := range block {
		l.Blocklist[name] = struct{}{}
	}
	return l
}

func applyLayer(names map[string]struct{}, layer Layer) map[string]struct{} {
	if layer.Allowlist != nil {
		for name := range names {
			if _, ok := layer.Allowlist[name]; !ok {
				delete(names, name)
			}
		}
	}
	for name := range layer.Blocklist {
		delete(names, name)
	}
	return names
}

// FilterTools applies global, then channel, then agent layers (in that
// order) to the given candidate tool names.
func (p LayeredPolicy) FilterTools(names []string, channel, agentName string) []string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	set = applyLayer(set, p.Global)
	if layer, ok := p.Channels[channel]; ok {
		set = applyLayer(set, layer)
	}
	if layer, ok := p.Agents[agentName]; ok {
		set = applyLayer(set, layer)
	}

	result := make([]string, 0, len(set))
	for _, n := range names {
		if _, ok := set[n]; ok {
			result = append(result, n)
		}
	}
	return result
}

// IsToolAllowed reports whether a single tool name survives the full layer
// composition for the given channel/agent.
func (p LayeredPolicy) IsToolAllowed(name, channel, agentName string) bool {
	filtered := p.FilterTools([]string{name}, channel, agentName)
	return len(filtered) == 1
}

// LayeredPolicyConfig is the YAML shape consumed by LoadLayeredPolicy,
// matching original_source's `tool_policy:` config section verbatim:
//
//	tool_policy:
//	  global: {allowlist: [...], blocklist: [...]}
//	  channels:
//	    <name>: {allowlist: [...], blocklist: [...]}
//	  agents:
//	    <name>: {allowlist: [...], blocklist: [...]}
type LayeredPolicyConfig struct {
	Global   LayerConfig            `yaml:"global"`
	Channels map[string]LayerConfig `yaml:"channels"`
	Agents   map[string]LayerConfig `yaml:"agents"`
}

// LayerConfig is the YAML-facing form of a Layer.
type LayerConfig struct {
	Allowlist []string `yaml:"allowlist"`
	Blocklist []string `yaml:"blocklist"`
}

// LoadLayeredPolicy builds a LayeredPolicy from its YAML-decoded config form.
func LoadLayeredPolicy(cfg LayeredPolicyConfig) LayeredPolicy {
	p := LayeredPolicy{
		Global:   NewLayer(cfg.Global.Allowlist, cfg.Global.Blocklist),
		Channels: make(map[string]Layer, len(cfg.Channels)),
		Agents:   make(map[string]Layer, len(cfg.Agents)),
	}
	for name, lc := range cfg.Channels {
		p.Channels[name] = NewLayer(lc.Allowlist, lc.Blocklist)
	}
	for name, lc := range cfg.Agents {
		p.Agents[name] = NewLayer(lc.Allowlist, lc.Blocklist)
	}
	return p
}
