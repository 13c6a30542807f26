package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/analysis"
	"github.com/ShayCichocki/baton/internal/routing"
	"github.com/ShayCichocki/baton/pkg/models"
)

func newAnalyzeCmd(o *rootOptions) *cobra.Command {
	var (
		hints   map[string]string
		current string
	)

	cmd := &cobra.Command{
		Use:   "analyze <request>",
		Short: "Show how a request would be classified and routed",
		Long: `Classify a request and list the router's ranked agent recommendations
without calling any model.

Examples:
  baton analyze "build a REST API with authentication"
  baton analyze --after coder "build a calculator"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := o.setup(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()

			after, err := parseAgentFlag("after", current)
			if err != nil {
				return err
			}
			holder, err := e.loadPolicy(cmd.Context())
			if err != nil {
				return err
			}

			wctx := &models.WorkflowContext{Request: joinArgs(args), Hints: hints}
			result := analysis.New(holder).Analyze(wctx.Request, wctx)
			wctx.Analysis = &result
			recs := routing.NewRouter(holder).Recommend(result, after, wctx)

			fmt.Fprintf(e.out, "Project type: %s\n", result.ProjectType)
			fmt.Fprintf(e.out, "Complexity:   %s\n", result.ComplexityLevel)
			fmt.Fprintf(e.out, "Flags:        %s\n", describeAnalysis(result))
			fmt.Fprintln(e.out)

			rows := make([][]string, 0, len(recs))
			for i, r := range recs {
				rows = append(rows, []string{
					fmt.Sprintf("%d", i+1),
					string(r.Agent),
					r.Priority.String(),
					fmt.Sprintf("%.2f", r.Confidence),
					r.Reason,
				})
			}
			fmt.Fprintln(e.out, renderTable([]string{"#", "Agent", "Priority", "Confidence", "Reason"}, rows))
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&hints, "hint", nil, "Analysis hint as key=value (project_type, complexity)")
	cmd.Flags().StringVar(&current, "after", "", "Rank recommendations as if this agent just ran")
	return cmd
}
