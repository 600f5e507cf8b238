package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heyitsaamir/conductor/internal/adapter/agentdir"
	"github.com/heyitsaamir/conductor/internal/port/planner"
)

var planCmd = &cobra.Command{
	Use:   `plan "<text>"`,
	Short: "Dry-run the configured planner and print the plan as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, flush, err := loadConfig()
		if err != nil {
			return err
		}
		defer flush()

		agents := agentdir.New()
		if cfg.Agents.File != "" {
			if agents, err = agentdir.Load(cfg.Agents.File); err != nil {
				return fmt.Errorf("agents: %w", err)
			}
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		list, err := agents.List(ctx)
		if err != nil {
			return err
		}

		a := &app{cfg: cfg}
		pl, _, _ := a.openPlanner()
		p, err := pl.Plan(ctx, planner.Request{Text: strings.Join(args, " "), Agents: list})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}
