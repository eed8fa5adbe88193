package models

import (
	"strings"
	"time"

	"github.com/nexusagent/nexus-runtime/internal/infra"
)

// Mode is an explicit model-class hint a caller may pass to Select.
type Mode string

const (
	ModeLight Mode = "light"
	ModeHeavy Mode = "heavy"
)

// ThinkingLevel is an explicit reasoning-effort hint, taking priority over
// every other selection signal.
type ThinkingLevel string

const (
	ThinkingNone   ThinkingLevel = ""
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// SelectRequest is the input to Select.
type SelectRequest struct {
	Query         string
	Mode          Mode
	Think         bool
	ThinkingLevel ThinkingLevel
}

// Config is the resolved model selection: the model to call and whether
// thinking/extended-reasoning mode should be requested.
type Config struct {
	Model        *Model
	UseThinking  bool
	ThinkingTier ThinkingLevel
}

// heavyKeywords/lightKeywords drive the query-length/keyword fallback
// heuristic, the lowest-priority signal in the decision order.
var heavyKeywords = []string{"analyze", "architecture", "design", "review", "refactor", "debug", "plan"}

// Selector chooses a model per request honoring circuit-breaker health,
// implementing the decision order from spec.md §4.5: thinking_level → think
// flag → heavy/light mode keyword → query-length/keyword heuristic →
// default. When the preferred model's circuit is open, a same-or-higher
// class fallback is chosen; if none is available, a provider-agnostic
// default is used.
type Selector struct {
	catalog  *Catalog
	circuits *infra.CircuitBreakerRegistry

	lightModelID   string
	heavyModelID   string
	defaultModelID string
}

// NewSelector builds a Selector over a catalog and circuit breaker registry.
func NewSelector(catalog *Catalog, circuits *infra.CircuitBreakerRegistry, lightModelID, heavyModelID, defaultModelID string) *Selector {
	return &Selector{
		catalog:        catalog,
		circuits:       circuits,
		lightModelID:   lightModelID,
		heavyModelID:   heavyModelID,
		defaultModelID: defaultModelID,
	}
}

// Select resolves a SelectRequest into a Config, honoring model/provider
// health from the circuit registry.
func (s *Selector) Select(req SelectRequest) Config {
	cfg := Config{}

	if req.ThinkingLevel != ThinkingNone {
		cfg.UseThinking = true
		cfg.ThinkingTier = req.ThinkingLevel
	} else if req.Think {
		cfg.UseThinking = true
		cfg.ThinkingTier = ThinkingMedium
	}

	candidateID := s.resolveCandidate(req)
	cfg.Model = s.pickAvailable(candidateID)
	return cfg
}

func (s *Selector) resolveCandidate(req SelectRequest) string {
	switch req.Mode {
	case ModeHeavy:
		return s.heavyModelID
	case ModeLight:
		return s.lightModelID
	}

	if looksHeavy(req.Query) {
		return s.heavyModelID
	}
	return s.lightModelID
}

func looksHeavy(query string) bool {
	if len(query) > 400 {
		return true
	}
	lower := strings.ToLower(query)
	for _, kw := range heavyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// pickAvailable returns the requested model if its model/provider circuits
// are available, else falls back to the same-or-higher tier, else the
// configured default.
func (s *Selector) pickAvailable(modelID string) *Model {
	now := time.Now()
	if s.isHealthy(modelID, now) {
		if m, ok := s.catalog.Get(modelID); ok {
			return m
		}
	}

	if requested, ok := s.catalog.Get(modelID); ok {
		for _, candidate := range s.catalog.List(&Filter{}) {
			if tierRank(candidate.Tier) > tierRank(requested.Tier) {
				continue
			}
			if s.isHealthy(candidate.ID, now) {
				return candidate
			}
		}
	}

	if m, ok := s.catalog.Get(s.defaultModelID); ok {
		return m
	}
	return nil
}

func (s *Selector) isHealthy(modelID string, now time.Time) bool {
	if s.circuits == nil {
		return true
	}
	if !s.circuits.IsAvailable(infra.ModelKey(modelID), now) {
		return false
	}
	return s.circuits.IsAvailable(infra.ProviderKey(modelID), now)
}
