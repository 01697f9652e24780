// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesNestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "hatchery",
		Subcommands: []*Command{
			{Name: "version", Run: func(context.Context, []string) error { called = "version"; return nil }},
			{
				Name: "agent",
				Subcommands: []*Command{
					{
						Name: "status",
						Run: func(_ context.Context, args []string) error {
							called = "agent status"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"agent", "status", "3f2a9c71"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "agent status" {
		t.Errorf("dispatched to %q, want %q", called, "agent status")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "3f2a9c71" {
		t.Errorf("args = %v, want [3f2a9c71]", receivedArgs)
	}
}

func TestCommand_Execute_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "value")
	var seen any

	root := &Command{
		Name: "hatchery",
		Subcommands: []*Command{{
			Name: "serve",
			Run:  func(ctx context.Context, _ []string) error { seen = ctx.Value(key{}); return nil },
		}},
	}
	if err := root.Execute(ctx, []string{"serve"}); err != nil {
		t.Fatal(err)
	}
	if seen != "value" {
		t.Errorf("Run saw context value %v", seen)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var port int
	var target string

	command := &Command{
		Name: "create",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flagSet.IntVar(&port, "gateway-port", 18789, "gateway port")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--gateway-port", "19000", "scout"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if port != 19000 {
		t.Errorf("port = %d, want 19000", port)
	}
	if target != "scout" {
		t.Errorf("target = %q, want %q", target, "scout")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "watch",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.String("channel", "", "channel")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--chanel", "whatsapp"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --channel") || !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, want suggestion and --help pointer", err)
	}
	var toolError *ToolError
	if !errors.As(err, &toolError) || toolError.Category != CategoryValidation {
		t.Errorf("error category = %v, want validation", err)
	}

	err = command.Execute(context.Background(), []string{"--zzzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("distant flag: error = %v, want no suggestion", err)
	}
}

func TestCommand_Execute_UnknownSubcommand(t *testing.T) {
	root := &Command{
		Name:        "hatchery",
		Subcommands: []*Command{{Name: "agent"}, {Name: "bundle"}, {Name: "template"}},
	}

	err := root.Execute(context.Background(), []string{"bundel"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "bundle"`) {
		t.Errorf("error = %v, want suggestion for bundle", err)
	}
	err = root.Execute(context.Background(), []string{"zzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestCommand_Execute_HelpAndMissingSubcommand(t *testing.T) {
	root := &Command{
		Name:        "hatchery",
		Subcommands: []*Command{{Name: "agent", Summary: "Manage agents"}},
	}
	for _, helpArg := range []string{"-h", "--help", "help"} {
		if err := root.Execute(context.Background(), []string{helpArg}); err != nil {
			t.Errorf("Execute(%q) error: %v", helpArg, err)
		}
	}
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Error("Execute() = nil, want error for missing subcommand")
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{Name: "hatchery"}
	command := &Command{
		Name:        "issue",
		Description: "Build and upload a startup bundle.",
		Examples:    []Example{{Description: "Issue a bundle", Command: "hatchery bundle issue 3f2a9c71"}},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("issue", pflag.ContinueOnError)
			flagSet.String("unbundler", "hatchery-unbundle", "unbundler command in the boot script")
			return flagSet
		},
		Run:    func(context.Context, []string) error { return nil },
		parent: root,
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()
	for _, want := range []string{
		"Build and upload a startup bundle.",
		"hatchery issue [flags]",
		"--unbundler",
		"# Issue a bundle",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q:\n%s", want, output)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"bundle", "bundel", 2},
		{"pair", "pair", 0},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
