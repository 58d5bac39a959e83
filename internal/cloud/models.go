// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"sort"
	"strings"
)

// Capabilities lists which optional parameters a model accepts.
type Capabilities struct {
	Sampling  bool // temperature, top_p, max_tokens
	Seed      bool
	Penalties bool // presence_penalty, frequency_penalty
	Reasoning bool // reasoning_effort
}

// ModelInfo describes a model known to the endpoint.
type ModelInfo struct {
	ID          string
	Description string
	Caps        Capabilities
}

// Models is the catalog of models with known capabilities.
var Models = map[string]ModelInfo{
	"openai": {
		ID:          "openai",
		Description: "GPT-4.1 mini, general chat",
		Caps:        Capabilities{Sampling: true, Seed: true, Penalties: true},
	},
	"openai-large": {
		ID:          "openai-large",
		Description: "GPT-4.1, larger general model",
		Caps:        Capabilities{Sampling: true, Seed: true, Penalties: true},
	},
	"openai-reasoning": {
		ID:          "openai-reasoning",
		Description: "o-series reasoning model",
		Caps:        Capabilities{Sampling: false, Seed: true, Reasoning: true},
	},
	"deepseek-reasoning": {
		ID:          "deepseek-reasoning",
		Description: "DeepSeek R1, streams reasoning deltas",
		Caps:        Capabilities{Sampling: true, Reasoning: true},
	},
	"mistral": {
		ID:          "mistral",
		Description: "Mistral Small",
		Caps:        Capabilities{Sampling: true, Seed: true},
	},
	"qwen-coder": {
		ID:          "qwen-coder",
		Description: "Qwen 2.5 Coder",
		Caps:        Capabilities{Sampling: true, Seed: true, Penalties: true},
	},
	"llama": {
		ID:          "llama",
		Description: "Llama 3.3 70B",
		Caps:        Capabilities{Sampling: true, Seed: true},
	},
}

// LookupModel returns the catalog entry for id. Unknown models are assumed to
// accept sampling parameters only.
func LookupModel(id string) (ModelInfo, bool) {
	info, ok := Models[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return ModelInfo{ID: id, Caps: Capabilities{Sampling: true}}, false
	}
	return info, true
}

// ModelIDs returns the catalog ids sorted.
func ModelIDs() []string {
	ids := make([]string, 0, len(Models))
	for id := range Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SupportedParams drops parameters the model does not declare support for.
func SupportedParams(model string, p Params) Params {
	info, _ := LookupModel(model)
	out := Params{}
	if info.Caps.Sampling {
		out.Temperature = p.Temperature
		out.TopP = p.TopP
		out.MaxTokens = p.MaxTokens
	}
	if info.Caps.Seed {
		out.Seed = p.Seed
	}
	if info.Caps.Penalties {
		out.PresencePenalty = p.PresencePenalty
		out.FrequencyPenalty = p.FrequencyPenalty
	}
	if info.Caps.Reasoning {
		out.ReasoningEffort = p.ReasoningEffort
	}
	return out
}
