package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"autoconf/internal/config"
	"autoconf/internal/template"
	"autoconf/internal/trigger"
	"autoconf/pkg/logging"
)

var (
	renderOutputFormat string
	renderTriggersDir  string
	renderVerbose      bool
)

// renderCmd previews the records a policy would maintain.
var renderCmd = &cobra.Command{
	Use:   "render <policy-file>",
	Short: "Show the properties a policy would write for the current triggers",
	Long: `Resolves a policy's property templates against the trigger files in the
triggers directory and prints the resulting records. Nothing is written.

A PER_TRIGGER policy renders one record per matching trigger. A shared policy
renders the single record aggregating all of them; SHARED_LAZY renders
nothing when no trigger matches.

Examples:
  autoconf render policies/databases.yaml
  autoconf render policies/pool.yaml --triggers ./triggers -o yaml
  autoconf render policies/databases.yaml --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutputFormat, "output", "o", outputTable, "Output format (table, json, yaml)")
	renderCmd.Flags().StringVar(&renderTriggersDir, "triggers", "", "Trigger directory (default: the configured filesystem source path)")
	renderCmd.Flags().BoolVarP(&renderVerbose, "verbose", "v", false, "Log matching and template resolution to stderr")
}

// renderedRecord is one record a policy would maintain.
type renderedRecord struct {
	Trigger    string         `json:"trigger" yaml:"trigger"`
	Target     string         `json:"target" yaml:"target"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// renderPolicy resolves p against the triggers matching its filter.
func renderPolicy(ctx context.Context, p config.Policy, dispatcher trigger.Dispatcher, logger logging.Logger) ([]renderedRecord, error) {
	triggers, err := dispatcher.Enumerate(ctx, p.Filter)
	if err != nil {
		return nil, err
	}
	logger.Info("%s: %d triggers match filter %q", p.Name, len(triggers), p.Filter)
	for _, w := range p.LintTemplates() {
		logger.Warn(w, "%s: template line skipped", p.Name)
	}

	if p.Multiplicity.Shared() {
		if len(triggers) == 0 && p.Multiplicity == config.SharedLazy {
			return nil, nil
		}
		props, err := template.Resolve(p.PropertyTemplates, template.NewAggregate(triggers))
		if err != nil {
			return nil, err
		}
		return []renderedRecord{{Trigger: fmt.Sprintf("%d triggers", len(triggers)), Target: p.TargetIdentity, Properties: props}}, nil
	}

	records := make([]renderedRecord, 0, len(triggers))
	for _, t := range triggers {
		props, err := template.Resolve(p.PropertyTemplates, t)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", t.ID, err)
		}
		logger.Debug("%s: resolved %d properties for trigger %s", p.Name, len(props), t.ID)
		records = append(records, renderedRecord{Trigger: t.ID, Target: p.TargetIdentity, Properties: props})
	}
	return records, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(renderOutputFormat); err != nil {
		return err
	}

	policy, err := config.LoadPolicy(args[0])
	if err != nil {
		return err
	}

	dir := renderTriggersDir
	if dir == "" {
		settings, err := config.LoadSettings(configPath)
		if err != nil {
			return err
		}
		dir = settings.Source.Path
	}

	source := trigger.NewFilesystemSource(dir, 0)
	if err := source.LoadAll(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.Discard()
	if renderVerbose {
		logger = logging.NewConsole(cmd.ErrOrStderr())
	}
	records, err := renderPolicy(ctx, policy, source, logger)
	if err != nil {
		return fmt.Errorf("failed to render policy %s: %w", policy.Name, err)
	}

	out := cmd.OutOrStdout()
	if renderOutputFormat != outputTable {
		return writeStructured(out, renderOutputFormat, records)
	}

	if len(records) == 0 {
		fmt.Fprintf(out, "Policy %s maintains no records for the current triggers\n", policy.Name)
		return nil
	}

	t := newTable(out, "Trigger", "Target", "Property", "Value")
	for _, r := range records {
		keys := make([]string, 0, len(r.Properties))
		for k := range r.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if len(keys) == 0 {
			t.AppendRow([]interface{}{r.Trigger, r.Target, "-", "-"})
			continue
		}
		for i, k := range keys {
			trig, target := r.Trigger, r.Target
			if i > 0 {
				trig, target = "", ""
			}
			t.AppendRow([]interface{}{trig, target, k, trigger.FormatValue(r.Properties[k])})
		}
	}
	t.Render()
	return nil
}
