// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentconfig generates an agent's worker configuration and
// its initial hatching manifest.
//
// Generation never resolves secrets. The template carries ${NAME}
// placeholders and [hatching.AgentConfig].EnvVarRefs maps each name to
// a secret ref. Resolution happens later, either for display
// ([Generator.ResolveConfig]) or for delivery to the worker
// (lib/bundle). Both go through [Resolve], so the two paths produce
// byte-identical text for the same template and secrets.
//
// Credentials map to placeholder names through an ordered keyword
// list ([CredentialRules]). The first keyword contained in the
// credential's display name wins. An LLM credential that matches
// nothing by name is matched against its description, and failing
// that is treated as an Anthropic key. A non-LLM credential that
// matches nothing is left out of the config.
package agentconfig
