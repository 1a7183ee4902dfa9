package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autoconf/internal/config"
)

var checkOutputFormat string

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate config.yaml and every policy file",
	Long: `Loads config.yaml and every policy in the policies directory and reports
what each policy would maintain. Nothing is written.

Template lines without a key=value separator are reported as warnings: they
are skipped by the reconciler and leave the affected record unchanged.

Examples:
  autoconf check
  autoconf check --config-path ./deploy -o json`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkOutputFormat, "output", "o", outputTable, "Output format (table, json, yaml)")
}

// policyReport is the check result of one policy.
type policyReport struct {
	Name           string   `json:"name" yaml:"name"`
	Filter         string   `json:"filter" yaml:"filter"`
	Multiplicity   string   `json:"multiplicity" yaml:"multiplicity"`
	TargetIdentity string   `json:"targetIdentity" yaml:"targetIdentity"`
	IsTemplate     bool     `json:"isTemplate" yaml:"isTemplate"`
	Templates      int      `json:"templates" yaml:"templates"`
	Warnings       []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newPolicyReport(p config.Policy) policyReport {
	r := policyReport{
		Name:           p.Name,
		Filter:         p.Filter,
		Multiplicity:   string(p.Multiplicity),
		TargetIdentity: p.TargetIdentity,
		IsTemplate:     p.IsTemplate,
		Templates:      len(p.PropertyTemplates),
	}
	for _, w := range p.LintTemplates() {
		r.Warnings = append(r.Warnings, w.Error())
	}
	return r
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(checkOutputFormat); err != nil {
		return err
	}

	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return err
	}

	policies, errs := config.LoadPolicies(settings.Policies.Dir)

	reports := make([]policyReport, 0, len(policies))
	for _, p := range policies {
		reports = append(reports, newPolicyReport(p))
	}

	out := cmd.OutOrStdout()
	if checkOutputFormat != outputTable {
		if err := writeStructured(out, checkOutputFormat, reports); err != nil {
			return err
		}
	} else {
		t := newTable(out, "Policy", "Filter", "Multiplicity", "Target", "Templates", "OK")
		for _, r := range reports {
			filter := r.Filter
			if filter == "" {
				filter = "(all)"
			}
			t.AppendRow([]interface{}{r.Name, filter, r.Multiplicity, r.TargetIdentity, r.Templates, statusIcon(len(r.Warnings) == 0)})
		}
		t.Render()

		for _, r := range reports {
			if len(r.Warnings) > 0 {
				fmt.Fprintf(out, "\n%s:\n  %s\n", r.Name, strings.Join(r.Warnings, "\n  "))
			}
		}
	}

	if errs.HasErrors() {
		fmt.Fprintln(cmd.ErrOrStderr(), errs.GetDetailedReport())
		return errs
	}
	return nil
}
