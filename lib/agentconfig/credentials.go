// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentconfig

import (
	"strings"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

// GatewayTokenPlaceholder is the reserved placeholder for the
// gateway auth token. It appears in the gateway section of the
// template, never in the env section.
const GatewayTokenPlaceholder = "OPENCLAW_GATEWAY_TOKEN"

// DefaultLLMPlaceholder is used for LLM credentials that no rule
// matches.
const DefaultLLMPlaceholder = "ANTHROPIC_API_KEY"

// CredentialRule maps a provider keyword to a placeholder name.
type CredentialRule struct {
	Keyword     string
	Placeholder string
}

// CredentialRules is evaluated in order; the first match wins.
var CredentialRules = []CredentialRule{
	{"anthropic", "ANTHROPIC_API_KEY"},
	{"openai", "OPENAI_API_KEY"},
	{"groq", "GROQ_API_KEY"},
	{"gemini", "GEMINI_API_KEY"},
	{"minimax", "MINIMAX_API_KEY"},
	{"zai", "ZAI_API_KEY"},
	{"moonshot", "MOONSHOT_API_KEY"},
	{"cerebras", "CEREBRAS_API_KEY"},
	{"brave", "BRAVE_API_KEY"},
	{"elevenlabs", "ELEVENLABS_API_KEY"},
	{"firecrawl", "FIRECRAWL_API_KEY"},
}

// PlaceholderFor returns the placeholder a credential is exposed
// under, or false if the credential does not belong in the config.
func PlaceholderFor(credential hatching.Credential) (string, bool) {
	if placeholder, ok := matchRules(credential.Name); ok {
		return placeholder, true
	}
	if credential.Purpose != hatching.PurposeLLM {
		return "", false
	}
	if placeholder, ok := matchRules(credential.Description); ok {
		return placeholder, true
	}
	return DefaultLLMPlaceholder, true
}

func matchRules(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, rule := range CredentialRules {
		if strings.Contains(lowered, rule.Keyword) {
			return rule.Placeholder, true
		}
	}
	return "", false
}
