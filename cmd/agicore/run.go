package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adaojoaquim/agi-core/core"
	"github.com/adaojoaquim/agi-core/engine"
)

var (
	runContext    map[string]string
	runImportance float64
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a single goal and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGoal,
}

func init() {
	runCmd.Flags().StringToStringVar(&runContext, "context", nil, "context key=value pairs passed with the goal")
	runCmd.Flags().Float64Var(&runImportance, "importance", -1, "importance of the recorded goal in [0,1]")
}

func runGoal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng := engine.New(cfg)
	defer eng.Close()

	input := &core.Input{Goal: strings.Join(args, " ")}
	if len(runContext) > 0 {
		input.Context = make(map[string]any, len(runContext))
		for k, v := range runContext {
			input.Context[k] = v
		}
	}
	if cmd.Flags().Changed("importance") {
		input.Importance = &runImportance
	}

	out, err := eng.Run(cmd.Context(), input)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
