// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hatchery/cmd/hatchery/cli"
	"github.com/bureau-foundation/hatchery/lib/manifest"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func stepCommand() *cli.Command {
	return &cli.Command{
		Name:    "step",
		Summary: "Drive manifest steps by hand",
		Description: `Move a single manifest step through its lifecycle. Steps are named
by type (e.g. credential_llm, config_gateway). Channel steps are
normally driven by 'hatchery pair' instead.

  pending     -> in_progress (start)
  failed      -> in_progress (start)
  pending     -> completed   (complete)
  in_progress -> completed   (complete)
  pending     -> failed      (fail)
  in_progress -> failed      (fail)
  in_progress -> pending     (reset)

The agent's hatching status is recomputed after every transition.`,
		Subcommands: []*cli.Command{
			stepTransitionCommand("start", "Mark a step in progress", nil,
				func(ctx context.Context, steps *manifest.Service, agentID, stepID string, _ *stepParams) (*manifest.StepUpdate, error) {
					return steps.StartStep(ctx, agentID, stepID)
				}),
			stepTransitionCommand("complete", "Mark a step completed", []cli.Example{{
				Description: "Complete the workspace step with a result",
				Command:     `hatchery step complete --result '{"path":"/srv/agent"}' <agent-id> config_workspace`,
			}},
				func(ctx context.Context, steps *manifest.Service, agentID, stepID string, params *stepParams) (*manifest.StepUpdate, error) {
					var result map[string]any
					if params.Result != "" {
						if err := json.Unmarshal([]byte(params.Result), &result); err != nil {
							return nil, cli.Validation("--result is not a JSON object: %w", err)
						}
					}
					return steps.CompleteStep(ctx, agentID, stepID, result)
				}),
			stepTransitionCommand("fail", "Mark a step failed", nil,
				func(ctx context.Context, steps *manifest.Service, agentID, stepID string, params *stepParams) (*manifest.StepUpdate, error) {
					if params.Message == "" {
						return nil, cli.Validation("--message is required")
					}
					return steps.FailStep(ctx, agentID, stepID, params.Message)
				}),
			stepTransitionCommand("reset", "Return an in-progress step to pending", nil,
				func(ctx context.Context, steps *manifest.Service, agentID, stepID string, _ *stepParams) (*manifest.StepUpdate, error) {
					return steps.ResetStep(ctx, agentID, stepID)
				}),
		},
	}
}

type stepParams struct {
	globalFlags
	cli.JSONOutput
	Result  string `flag:"result" desc:"JSON object recorded as the step result (complete only)"`
	Message string `flag:"message" desc:"failure message (fail only)"`
}

// stepResult is the JSON form of a step transition.
type stepResult struct {
	Step           hatching.ManifestStep   `json:"step"`
	HatchingStatus hatching.HatchingStatus `json:"hatching_status"`
}

type stepTransition func(ctx context.Context, steps *manifest.Service, agentID, stepID string, params *stepParams) (*manifest.StepUpdate, error)

func stepTransitionCommand(name, summary string, examples []cli.Example, transition stepTransition) *cli.Command {
	var params stepParams
	usage := fmt.Sprintf("hatchery step %s [flags] <agent-id> <step-type>", name)
	return &cli.Command{
		Name:     name,
		Summary:  summary,
		Usage:    usage,
		Examples: examples,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := requireArgs(args, 2, usage); err != nil {
				return err
			}
			stepType := hatching.StepType(args[1])
			if !stepType.IsValid() {
				return cli.Validation("unknown step type %q", args[1])
			}
			env, err := params.openEnvironment("step/" + name)
			if err != nil {
				return err
			}
			defer env.Close()

			step, err := env.manifest.GetStepByType(ctx, args[0], stepType)
			if err != nil {
				return cli.Classify(err)
			}
			update, err := transition(ctx, env.manifest, args[0], step.ID, &params)
			if err != nil {
				return cli.Classify(err)
			}
			if done, err := params.EmitJSON(stepResult{Step: update.Step, HatchingStatus: update.Hatching}); done {
				return err
			}
			fmt.Printf("%s: %s (agent %s)\n", update.Step.Type, update.Step.Status, update.Hatching)
			return nil
		},
	}
}
