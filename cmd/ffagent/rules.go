package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VelocityFibre/ff-agent/internal/classifier"
)

func newRulesCmd() *cobra.Command {
	var rulesPath string

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate classification rule tables",
	}
	rulesCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "path to YAML rule table (default: built-in rules)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a rule table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(rulesPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule table OK: %d categories, %d project patterns, %d formulas\n",
				len(table.Categories), len(table.ProjectPatterns), len(table.Formulas))
			return nil
		},
	}

	classifyCmd := &cobra.Command{
		Use:   "classify <question>",
		Short: "Classify a question and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(rulesPath)
			if err != nil {
				return err
			}
			result := classifier.New(table, nil).Classify(args[0])
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	rulesCmd.AddCommand(checkCmd)
	rulesCmd.AddCommand(classifyCmd)
	return rulesCmd
}

func loadTable(path string) (*classifier.RuleTable, error) {
	if path == "" {
		return classifier.DefaultRuleTable(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("rule table not found: %w", err)
	}
	return classifier.LoadRuleTable(path)
}
