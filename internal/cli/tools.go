package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-blue/pkg/tools"
)

var toolsYAML bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools declared to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		m, err := tools.Load(cfg.Tools.Manifest)
		if err != nil {
			return err
		}
		if toolsYAML {
			data, err := yaml.Marshal(m)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return printTools(cmd.OutOrStdout(), m)
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsYAML, "yaml", false, "Print the full manifest as YAML")
}

func printTools(w io.Writer, m *tools.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPARAMETERS\tDESCRIPTION")
	for _, t := range m.Tools {
		params := strings.Join(tools.Parameters(t), ",")
		if params == "" {
			params = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, params, t.Description)
	}
	return tw.Flush()
}
