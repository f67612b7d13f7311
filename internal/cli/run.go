package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/finly-network/finly/internal/daemon"
	"github.com/finly-network/finly/internal/domain"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("file", "f", "", "Finance snapshot (.yaml, .yml or .json)")
	runCmd.Flags().String("mode", "", "Proposal mode: rules or llm (overrides [decision].mode)")
	runCmd.MarkFlagRequired("file")
}

var runCmd = &cobra.Command{
	Use:   "run -f SNAPSHOT",
	Short: "Run one decision cycle on a snapshot file",
	Long: `Run one full cycle (risk, plan, enforce, dispatch, record) on a finance
snapshot and print the analysis response and plan as JSON. The outcome is appended
to the configured ledger like any other cycle.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	snap, err := LoadSnapshot(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
		cfg.Decision.Mode = strings.ToLower(mode)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	app, err := daemon.Build(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Runner.Run(cmd.Context(), snap)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res.Report())
}

// LoadSnapshot reads a finance snapshot from a YAML or JSON file.
func LoadSnapshot(path string) (domain.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap domain.Snapshot
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &snap)
	default:
		err = yaml.Unmarshal(data, &snap)
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidRequest, filepath.Base(path), err)
	}
	return snap, nil
}
