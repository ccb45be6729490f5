package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

const opScope = "scope"

// scopeSystemPrompt pins the provider to a strict JSON shape, in Spanish.
const scopeSystemPrompt = `Eres un planificador experto de construccion. Responde SOLO JSON valido con esta forma exacta: { "title": string, "tasks": string[], "checklist": string[], "processEs": string[] }. Todo en espanol. processEs debe explicar el proceso paso a paso con detalle tecnico y orden de ejecucion.`

// HistoryItem is one prior conversation turn.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ScopeRequest is the caller payload for scope generation.
type ScopeRequest struct {
	Prompt   string        `json:"prompt"`
	History  []HistoryItem `json:"history,omitempty"`
	TenantID string        `json:"tenantId,omitempty"`
}

// ScopeResult is a generated scope of work. Cache reports whether the
// result was served from the cache rather than freshly computed.
type ScopeResult struct {
	Title     string   `json:"title"`
	Tasks     []string `json:"tasks"`
	Checklist []string `json:"checklist"`
	ProcessEs []string `json:"processEs"`
	Source    string   `json:"source"`
	Cache     bool     `json:"cache"`
}

// GenerateScope runs the scope-generation pipeline: normalize, fingerprint,
// cache, budget, deduplicate, then a queued and retried provider call whose
// response is validated before being cached.
func (g *Gateway) GenerateScope(ctx context.Context, req ScopeRequest) (ScopeResult, error) {
	tenantID := tenantOrDefault(req.TenantID)

	prompt := clampText(req.Prompt, g.cfg.MaxPromptChars)
	if prompt == "" {
		g.record(opScope, "validation_error")
		return ScopeResult{}, &ValidationError{Field: "prompt", Message: "prompt is required"}
	}
	history := g.normalizeHistory(req.History)

	key := fingerprint(scopeSignature{
		Endpoint:        opScope,
		Model:           g.model,
		Prompt:          prompt,
		History:         history,
		MaxOutputTokens: g.cfg.MaxScopeOutputTokens,
		TenantID:        tenantID,
	})

	if cached, ok := g.scopeCache.Get(key); ok {
		g.cacheHit(opScope)
		g.record(opScope, "cache_hit")
		cached.Cache = true
		return cached, nil
	}
	g.cacheMiss(opScope)

	if err := g.spend(opScope, tenantID, len([]rune(prompt)), g.cfg.MaxScopeOutputTokens); err != nil {
		g.record(opScope, "budget_rejected")
		return ScopeResult{}, err
	}

	result, shared, err := g.scopeFlights.Do(ctx, key, func() (ScopeResult, error) {
		return g.computeScope(ctx, prompt, history, key)
	})
	if shared {
		g.dedupeShared(opScope)
	}
	if err != nil {
		g.record(opScope, outcomeForError(err))
		return ScopeResult{}, err
	}
	g.record(opScope, "ok")
	return result, nil
}

// normalizeHistory keeps the most recent turns up to the configured limit
// (cost-saver mode caps it at two), clamps each turn's content and drops
// entries left empty. Unknown roles become "user".
func (g *Gateway) normalizeHistory(raw []HistoryItem) []HistoryItem {
	limit := g.cfg.MaxHistoryItems
	if g.cfg.CostSaver && limit > 2 {
		limit = 2
	}
	if len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}
	out := make([]HistoryItem, 0, len(raw))
	for _, h := range raw {
		content := clampText(h.Content, g.cfg.MaxPromptChars/2)
		if content == "" {
			continue
		}
		role := "user"
		if h.Role == "assistant" {
			role = "assistant"
		}
		out = append(out, HistoryItem{Role: role, Content: content})
	}
	return out
}

// computeScope is the deduplicated producer: it issues the provider call
// and validates the structured response.
func (g *Gateway) computeScope(ctx context.Context, prompt string, history []HistoryItem, key string) (ScopeResult, error) {
	messages := make([]map[string]any, 0, len(history)+2)
	messages = append(messages, map[string]any{"role": "system", "content": scopeSystemPrompt})
	for _, h := range history {
		messages = append(messages, map[string]any{"role": h.Role, "content": h.Content})
	}
	messages = append(messages, map[string]any{
		"role": "user",
		"content": fmt.Sprintf(
			"Genera un scope of work para estas tareas: %s. Checklist de acciones ejecutables. processEs con pasos detallados, control de calidad y cierre.",
			prompt,
		),
	})

	body := map[string]any{
		"model":           g.model,
		"temperature":     0.2,
		"max_tokens":      g.cfg.MaxScopeOutputTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        messages,
	}

	payload, err := g.callUpstream(ctx, opScope, func(ctx context.Context) (map[string]any, error) {
		return g.client.ChatCompletion(ctx, body)
	})
	if err != nil {
		return ScopeResult{}, err
	}

	parsed, err := parseScopePayload(payload)
	if err != nil {
		return ScopeResult{}, err
	}

	out := ScopeResult{
		Title:     parsed.title,
		Tasks:     stringSlice(parsed.tasks, maxScopeTasks),
		Checklist: stringSlice(parsed.checklist, maxScopeChecklist),
		ProcessEs: stringSlice(parsed.process, maxScopeProcess),
		Source:    "openai",
		Cache:     false,
	}
	g.scopeCache.Set(key, out)
	return out, nil
}

type scopePayload struct {
	title     string
	tasks     []any
	checklist []any
	process   []any
}

// parseScopePayload digs the model's JSON out of a chat-completions
// response and validates the required shape. Unvalidated provider JSON
// never leaves this function.
func parseScopePayload(payload map[string]any) (scopePayload, error) {
	content, ok := firstChoiceContent(payload)
	if !ok {
		return scopePayload{}, ErrInvalidResponseFormat
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return scopePayload{}, fmt.Errorf("%w: %v", ErrInvalidResponseFormat, err)
	}

	title := stringify(parsed["title"])
	tasks, tasksOK := parsed["tasks"].([]any)
	checklist, checklistOK := parsed["checklist"].([]any)
	process, processOK := parsed["processEs"].([]any)
	if title == "" || !tasksOK || !checklistOK || !processOK {
		return scopePayload{}, ErrInvalidResponseFormat
	}

	return scopePayload{title: title, tasks: tasks, checklist: checklist, process: process}, nil
}

// firstChoiceContent extracts choices[0].message.content from a
// chat-completions response.
func firstChoiceContent(payload map[string]any) (string, bool) {
	choices, ok := payload["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"].(string)
	return content, ok
}

// outcomeForError buckets a pipeline failure for metrics.
func outcomeForError(err error) string {
	switch {
	case isShapeError(err):
		return "invalid_response"
	default:
		return "upstream_error"
	}
}
