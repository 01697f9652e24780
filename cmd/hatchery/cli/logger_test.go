// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buffer bytes.Buffer
	newLogger(&buffer, false, false).Info("bundle issued", "agent_id", "3f2a9c71")
	newLogger(&buffer, false, false).Debug("hidden")

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("non-terminal output is not a single JSON record: %q", buffer.String())
	}
	if record["msg"] != "bundle issued" || record["agent_id"] != "3f2a9c71" {
		t.Errorf("record = %v", record)
	}

	buffer.Reset()
	newLogger(&buffer, true, true).Debug("poll", "channel", "whatsapp")
	if !strings.Contains(buffer.String(), "level=DEBUG") || !strings.Contains(buffer.String(), "channel=whatsapp") {
		t.Errorf("verbose terminal output = %q", buffer.String())
	}
}
