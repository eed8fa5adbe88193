// Package llm wires model selection, auth profile rotation, budget
// enforcement, and circuit-breaker health into a single completion
// entrypoint over the agent.LLMProvider implementations in
// internal/agent/providers (spec.md §4.6).
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nexusagent/nexus-runtime/internal/agent"
	"github.com/nexusagent/nexus-runtime/internal/agent/providers"
	"github.com/nexusagent/nexus-runtime/internal/auth"
	"github.com/nexusagent/nexus-runtime/internal/infra"
	"github.com/nexusagent/nexus-runtime/internal/models"
	"github.com/nexusagent/nexus-runtime/internal/usage"
)

// ErrBudgetExceeded is returned when a completion would be dispatched after
// the daily token budget has already been exhausted.
var ErrBudgetExceeded = errors.New("daily token budget exceeded")

// ErrNoProvider is returned when no provider is registered for a model's
// provider id.
var ErrNoProvider = errors.New("no provider registered for model")

// Request is the input to Invoker.Complete.
type Request struct {
	Messages      []agent.CompletionMessage
	Tools         []agent.Tool
	System        string
	Select        models.SelectRequest
	MaxTokens     int
}

// Response is the aggregated, non-streaming result of a completion.
type Response struct {
	Text         string
	Thinking     string
	ToolCalls    []agent.CompletionChunk
	Model        string
	Provider     string
	Usage        usage.Usage
}

// Invoker dispatches completions to the provider selected for a request,
// enforcing budget and honoring circuit-breaker health.
type Invoker struct {
	providers map[string]agent.LLMProvider
	selector  *models.Selector
	profiles  *auth.ProfileStore
	budget    *usage.BudgetTracker
	circuits  *infra.CircuitBreakerRegistry
}

// providerKey composes the registry key used for a profile-specific provider
// instance. Each auth profile that carries its own credential gets its own
// provider instance (constructed once, at startup, with that profile's
// credential baked in) since the underlying SDK clients fix credentials at
// construction time; "provider:profileID" entries are optional overlays on
// top of the bare "provider" entry.
func providerKey(providerName, profileID string) string {
	if profileID == "" {
		return providerName
	}
	return providerName + ":" + profileID
}

// NewInvoker builds an Invoker over a provider registry keyed by provider id
// ("anthropic", "openai", "bedrock", ...), optionally with additional
// "provider:profileID" entries for multi-credential rotation.
func NewInvoker(providerRegistry map[string]agent.LLMProvider, selector *models.Selector, profiles *auth.ProfileStore, budget *usage.BudgetTracker, circuits *infra.CircuitBreakerRegistry) *Invoker {
	return &Invoker{
		providers: providerRegistry,
		selector:  selector,
		profiles:  profiles,
		budget:    budget,
		circuits:  circuits,
	}
}

// Complete resolves a model, checks budget, dispatches to the provider, and
// aggregates the streamed response. It never partially records usage: a
// failed call leaves the budget ledger untouched.
func (inv *Invoker) Complete(ctx context.Context, req Request) (*Response, error) {
	if inv.budget != nil {
		if within, _ := inv.budget.CheckBudget(); !within {
			return nil, ErrBudgetExceeded
		}
	}

	cfg := inv.selector.Select(req.Select)
	if cfg.Model == nil {
		return nil, ErrNoProvider
	}
	providerName := string(cfg.Model.Provider)

	provider, ok := inv.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, providerName)
	}

	profileID := inv.rotateCredential(providerName)
	if byProfile, ok := inv.providers[providerKey(providerName, profileID)]; ok {
		provider = byProfile
	}

	completionReq := &agent.CompletionRequest{
		Model:                cfg.Model.ID,
		System:               req.System,
		Messages:             req.Messages,
		Tools:                req.Tools,
		MaxTokens:            req.MaxTokens,
		EnableThinking:       cfg.UseThinking,
		ThinkingBudgetTokens: thinkingBudget(cfg.ThinkingTier),
	}

	resp, err := inv.dispatch(ctx, provider, cfg.Model.ID, completionReq)
	if err != nil {
		inv.recordFailure(providerName, profileID, cfg.Model.ID, err)
		return nil, err
	}

	inv.recordSuccess(providerName, profileID, cfg.Model.ID, resp.Usage)
	resp.Provider = providerName
	return resp, nil
}

// dispatch runs the provider call through its model/provider circuit
// breakers and aggregates the streamed chunks into a single response.
func (inv *Invoker) dispatch(ctx context.Context, provider agent.LLMProvider, modelID string, req *agent.CompletionRequest) (*Response, error) {
	var resp *Response
	runner := func(ctx context.Context) error {
		chunks, err := provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		aggregated, aggErr := aggregate(chunks)
		if aggErr != nil {
			return aggErr
		}
		resp = aggregated
		return nil
	}

	if inv.circuits == nil {
		if err := runner(ctx); err != nil {
			return nil, err
		}
		return resp, nil
	}

	modelCB := inv.circuits.Get(infra.ModelKey(modelID))
	if err := modelCB.Execute(ctx, func(ctx context.Context) error {
		providerCB := inv.circuits.Get(infra.ProviderKey(modelID))
		return providerCB.Execute(ctx, runner)
	}); err != nil {
		return nil, err
	}
	return resp, nil
}

func aggregate(chunks <-chan *agent.CompletionChunk) (*Response, error) {
	resp := &Response{}
	var text strings.Builder
	var thinking strings.Builder

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk)
		}
		if chunk.Done {
			resp.Usage.InputTokens = int64(chunk.InputTokens)
			resp.Usage.OutputTokens = int64(chunk.OutputTokens)
		}
	}

	resp.Text = text.String()
	resp.Thinking = thinking.String()
	return resp, nil
}

// rotateCredential picks the current best credential for a provider, if an
// auth profile store is configured. Returns "" when no profile store is
// wired or no credential is available — dispatch then relies on the
// provider's own configured default credential.
func (inv *Invoker) rotateCredential(providerName string) string {
	if inv.profiles == nil {
		return ""
	}
	_, profileID, err := inv.profiles.GetCredential(providerName)
	if err != nil {
		return ""
	}
	return profileID
}

func (inv *Invoker) recordSuccess(providerName, profileID, modelID string, u usage.Usage) {
	if inv.profiles != nil && profileID != "" {
		inv.profiles.MarkSuccess(profileID)
	}
	if inv.budget != nil {
		_ = inv.budget.RecordUsage(u)
	}
}

func (inv *Invoker) recordFailure(providerName, profileID, modelID string, err error) {
	if inv.profiles != nil && profileID != "" {
		reason := providers.ClassifyError(err)
		if reason == providers.FailoverAuth || reason == providers.FailoverRateLimit {
			inv.profiles.MarkFailure(profileID)
		}
	}
}

func thinkingBudget(tier models.ThinkingLevel) int {
	switch tier {
	case models.ThinkingLow:
		return 4096
	case models.ThinkingHigh:
		return 32000
	case models.ThinkingMedium:
		return 10000
	default:
		return 0
	}
}
