// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

type createParams struct {
	JSONOutput
	Name     string        `flag:"name,n" desc:"agent name"`
	Port     int           `flag:"gateway-port" desc:"gateway port" default:"18789"`
	Channels []string      `flag:"channel" desc:"channels to enable"`
	Wait     time.Duration `flag:"wait" desc:"wait" default:"30s"`
	Force    bool          `flag:"force" desc:"replace"`
	internal string
}

func TestBindFlags(t *testing.T) {
	var params createParams
	flagSet := FlagsFromParams("create", &params)

	if params.Port != 18789 || params.Wait != 30*time.Second {
		t.Errorf("defaults not applied: %+v", params)
	}
	err := flagSet.Parse([]string{"-n", "scout", "--channel", "whatsapp,telegram", "--json", "--force", "--gateway-port=19000", "extra"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Name != "scout" || params.Port != 19000 || !params.Force || !params.OutputJSON {
		t.Errorf("params = %+v", params)
	}
	if strings.Join(params.Channels, ",") != "whatsapp,telegram" {
		t.Errorf("channels = %v", params.Channels)
	}
	if args := flagSet.Args(); len(args) != 1 || args[0] != "extra" {
		t.Errorf("positional args = %v", args)
	}
	if flagSet.Lookup("internal") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlagsErrors(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(createParams{}, flagSet); err == nil {
		t.Error("non-pointer accepted")
	}
	var notStruct string
	if err := BindFlags(&notStruct, flagSet); err == nil {
		t.Error("pointer to non-struct accepted")
	}
	var badDefault struct {
		Port int `flag:"port" default:"many"`
	}
	if err := BindFlags(&badDefault, flagSet); err == nil {
		t.Error("unparseable default accepted")
	}
	var unsupported struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("unsupported type accepted")
	}

	defer func() {
		if recover() == nil {
			t.Error("FlagsFromParams did not panic on invalid params")
		}
	}()
	FlagsFromParams("bad", &notStruct)
}

func TestJSONOutputNormalizesNilSlices(t *testing.T) {
	var buffer bytes.Buffer
	var steps []string
	if err := writeJSON(&buffer, normalizeNilSlice(steps)); err != nil {
		t.Fatal(err)
	}
	var decoded []string
	if err := json.Unmarshal(buffer.Bytes(), &decoded); err != nil || decoded == nil {
		t.Errorf("nil slice encoded as %q", buffer.String())
	}

	output := JSONOutput{}
	if done, err := output.EmitJSON(steps); done || err != nil {
		t.Errorf("EmitJSON without --json = %v, %v", done, err)
	}
}
