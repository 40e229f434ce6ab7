package command

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var chordsCmd = &cobra.Command{
	Use:         "chords",
	Short:       "List the key chords that can be sent to a console",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Key", "Chord", "Sequence")
		for _, e := range menuEntries() {
			if err := table.Append([]string{string(e.key), e.chord.Name, describeSequence(e.chord)}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}
