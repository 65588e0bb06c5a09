package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

var pipelinesJSON bool

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines [operation]",
	Short: "List the pipelines and their steps",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPipelines,
}

func init() {
	rootCmd.AddCommand(pipelinesCmd)
	pipelinesCmd.Flags().BoolVar(&pipelinesJSON, "json", false, "print the catalog as JSON")
}

func runPipelines(cmd *cobra.Command, args []string) error {
	svc, err := service.New(service.Config{Logger: logging.Nop()})
	if err != nil {
		return err
	}

	catalog := svc.Catalog()
	if len(args) == 1 {
		op, ok := service.Operation(args[0])
		if !ok {
			return fmt.Errorf("unknown operation %q", args[0])
		}
		for _, info := range catalog {
			if info.Operation == op {
				catalog = []service.PipelineInfo{info}
				break
			}
		}
	}

	out := cmd.OutOrStdout()
	if pipelinesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}

	for _, info := range catalog {
		fmt.Fprintln(out, titleStyle.Render(info.Operation)+" "+mutedStyle.Render("("+info.Pipeline+")"))
		for _, step := range info.Steps {
			fmt.Fprintf(out, "  %s %s\n", column(step.Key, 22), step.Label)
			for _, p := range step.Params {
				name := p.Key
				if p.Flat != "" {
					name += " / " + p.Flat
				}
				fmt.Fprintf(out, "      %s\n", mutedStyle.Render(fmt.Sprintf("%s = %v", name, p.Default)))
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}
