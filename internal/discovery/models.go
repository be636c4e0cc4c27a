// internal/discovery/models.go
package discovery

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"sessionviewer/internal/backend"
)

// ModelInfo is one selectable model. Created is zero for built-in entries.
type ModelInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Provider string    `json:"provider"`
	Group    string    `json:"group"`
	Created  time.Time `json:"created,omitzero"`
}

var claudeModels = []ModelInfo{
	{ID: "claude-sonnet-4-6", Name: "Sonnet 4.6 (default)", Provider: "anthropic", Group: "Claude Sonnet"},
	{ID: "claude-opus-4-6", Name: "Opus 4.6", Provider: "anthropic", Group: "Claude Opus"},
	{ID: "claude-haiku-4-5", Name: "Haiku 4.5", Provider: "anthropic", Group: "Claude Haiku"},
}

var codexModels = []ModelInfo{
	{ID: "gpt-5.1-codex", Name: "GPT-5.1 Codex (default)", Provider: "openai", Group: "Codex"},
	{ID: "gpt-5.1-codex-max", Name: "GPT-5.1 Codex Max", Provider: "openai", Group: "Codex"},
	{ID: "gpt-5.1-codex-mini", Name: "GPT-5.1 Codex Mini", Provider: "openai", Group: "Codex"},
	{ID: "gpt-5.1", Name: "GPT-5.1", Provider: "openai", Group: "GPT"},
	{ID: "gpt-5-codex", Name: "GPT-5 Codex", Provider: "openai", Group: "Codex"},
	{ID: "o4-mini", Name: "o4-mini", Provider: "openai", Group: "Reasoning"},
}

// BuiltinModels returns the models a CLI is known to accept.
func BuiltinModels(cli backend.CLIType) ([]ModelInfo, error) {
	switch cli {
	case backend.CLIClaude:
		return slices.Clone(claudeModels), nil
	case backend.CLICodex:
		return slices.Clone(codexModels), nil
	}
	return nil, ErrUnknownCLI
}

// ModelLister combines built-in model lists with the Anthropic models API.
type ModelLister struct {
	client      *RetryableClient
	credentials func() Credentials
	logger      *zap.Logger
}

// NewModelLister uses credentials to resolve a key when the caller passes
// none. credentials may be nil.
func NewModelLister(client *RetryableClient, credentials func() Credentials, logger *zap.Logger) *ModelLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if credentials == nil {
		credentials = func() Credentials { return Credentials{BaseURL: DefaultBaseURL} }
	}
	return &ModelLister{client: client, credentials: credentials, logger: logger.Named("discovery")}
}

// ListModels returns the built-in models for cli followed by any extra
// Claude models the API reports. Empty apiKey or baseURL fall back to the
// resolved credentials. Network failures only shorten the list.
func (l *ModelLister) ListModels(ctx context.Context, cli backend.CLIType, apiKey, baseURL string) ([]ModelInfo, error) {
	builtin, err := BuiltinModels(cli)
	if err != nil {
		return nil, err
	}
	if cli != backend.CLIClaude {
		return builtin, nil
	}

	if apiKey == "" || baseURL == "" {
		creds := l.credentials()
		apiKey = firstNonEmpty(apiKey, creds.APIKey)
		baseURL = firstNonEmpty(baseURL, creds.BaseURL, DefaultBaseURL)
	}
	if apiKey == "" {
		return builtin, nil
	}

	fetched, err := l.fetch(ctx, apiKey, baseURL)
	if err != nil {
		l.logger.Warn("model list fetch failed", zap.String("base_url", baseURL), zap.Error(err))
		return builtin, nil
	}
	return mergeModels(builtin, fetched), nil
}

type anthropicModels struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		CreatedAt   string `json:"created_at"`
	} `json:"data"`
}

func (l *ModelLister) fetch(ctx context.Context, apiKey, baseURL string) ([]ModelInfo, error) {
	url := strings.TrimRight(baseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("models API %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body anthropicModels
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}

	var models []ModelInfo
	for _, m := range body.Data {
		// proxies may list other providers' models
		if !strings.Contains(strings.ToLower(m.ID), "claude") {
			continue
		}
		info := ModelInfo{
			ID:       m.ID,
			Name:     firstNonEmpty(m.DisplayName, m.ID),
			Provider: "anthropic",
			Group:    inferGroup(m.ID),
		}
		if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			info.Created = t
		}
		models = append(models, info)
	}
	slices.SortStableFunc(models, func(a, b ModelInfo) int {
		return b.Created.Compare(a.Created)
	})
	return models, nil
}

func mergeModels(builtin, fetched []ModelInfo) []ModelInfo {
	out := slices.Clone(builtin)
	for _, m := range fetched {
		if !slices.ContainsFunc(out, func(o ModelInfo) bool { return o.ID == m.ID }) {
			out = append(out, m)
		}
	}
	return out
}

func inferGroup(id string) string {
	lower := strings.ToLower(id)
	for _, family := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(lower, family) {
			return "Claude " + strings.ToUpper(family[:1]) + family[1:]
		}
	}
	return "Other"
}

// FilterModels keeps models whose id, name or group contains query, ignoring
// case.
func FilterModels(models []ModelInfo, query string) []ModelInfo {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return models
	}
	return slices.DeleteFunc(slices.Clone(models), func(m ModelInfo) bool {
		return !strings.Contains(strings.ToLower(m.ID), query) &&
			!strings.Contains(strings.ToLower(m.Name), query) &&
			!strings.Contains(strings.ToLower(m.Group), query)
	})
}

// GroupModels buckets models by Group, keeping first-seen group order.
func GroupModels(models []ModelInfo) (groups []string, byGroup map[string][]ModelInfo) {
	byGroup = make(map[string][]ModelInfo)
	for _, m := range models {
		if _, ok := byGroup[m.Group]; !ok {
			groups = append(groups, m.Group)
		}
		byGroup[m.Group] = append(byGroup[m.Group], m)
	}
	slices.SortStableFunc(groups, func(a, b string) int {
		return cmp.Compare(groupRank(a), groupRank(b))
	})
	return groups, byGroup
}

func groupRank(g string) int {
	if g == "Other" {
		return 1
	}
	return 0
}
