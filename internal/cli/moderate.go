package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var moderateCmd = &cobra.Command{
	Use:   "moderate <text>",
	Short: "Check whether text is appropriate for a public audience",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := application.Moderate(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		switch {
		case out.IsAppropriate:
			fmt.Fprintln(w, "Appropriate.")
		case out.Blocked:
			fmt.Fprintln(w, "Blocked: the text cannot be made appropriate.")
		default:
			fmt.Fprintf(w, "Filtered: %s\n", out.FilteredText)
		}
		return nil
	},
}
