// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bureau-foundation/hatchery/lib/secretstore"
)

// Render encodes a template as indented JSON. HTML characters are
// not escaped and the trailing newline is dropped. Map keys come out
// sorted, so the same template always renders to the same text.
func Render(template map[string]any) (string, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(template); err != nil {
		return "", fmt.Errorf("agentconfig: rendering template: %w", err)
	}
	return strings.TrimSuffix(buffer.String(), "\n"), nil
}

// Substitute replaces each ${NAME} in text with the JSON-escaped form
// of values[NAME], without surrounding quotes. Replacement is a single
// pass, so a value that itself contains ${OTHER} is left as is.
// Placeholders with no value stay literal.
func Substitute(text string, values map[string]string) string {
	if len(values) == 0 {
		return text
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, "${"+name+"}", escapeJSONString(values[name]))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func escapeJSONString(value string) string {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	encoder.Encode(value)
	encoded := strings.TrimSuffix(buffer.String(), "\n")
	return encoded[1 : len(encoded)-1]
}

// ResolveSecrets fetches every ref concurrently and returns the values
// keyed like refs. A ref that cannot be fetched, or whose value is not
// valid UTF-8, is logged and left out; it never fails the whole
// resolution.
func ResolveSecrets(ctx context.Context, secrets secretstore.Store, refs map[string]string, logger *slog.Logger) map[string]string {
	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		values    = make(map[string]string, len(refs))
	)
	for name, ref := range refs {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			value, err := secrets.Get(ctx, ref)
			if err != nil {
				logger.Warn("skipping unresolvable secret", "placeholder", name, "error", err)
				return
			}
			if !utf8.Valid(value.Bytes()) {
				value.Close()
				logger.Warn("skipping secret that is not valid UTF-8", "placeholder", name)
				return
			}
			text := value.String()
			value.Close()

			mu.Lock()
			values[name] = text
			mu.Unlock()
		}()
	}
	waitGroup.Wait()
	return values
}

// Resolve renders template and substitutes every placeholder whose
// secret can be fetched. It also returns the resolved values so the
// caller can reuse them without a second fetch.
func Resolve(ctx context.Context, secrets secretstore.Store, template map[string]any, refs map[string]string, logger *slog.Logger) (string, map[string]string, error) {
	text, err := Render(template)
	if err != nil {
		return "", nil, err
	}
	values := ResolveSecrets(ctx, secrets, refs, logger)
	return Substitute(text, values), values, nil
}
