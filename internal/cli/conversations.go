package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and inspect stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, newest last",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		summaries := application.Store.List()
		out := cmd.OutOrStdout()
		if len(summaries) == 0 {
			fmt.Fprintln(out, "No conversations yet.")
			return nil
		}

		active := application.Store.ActiveID()
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tTITLE\tMESSAGES\tCREATED")
		for _, s := range summaries {
			marker := ""
			if s.ID == active {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", marker, s.ID, s.Title, s.MessageCount, s.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print every message of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := application.Store.Get(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n\n", conv.Title)
		for _, msg := range conv.Messages {
			fmt.Fprintf(out, "[%s]", msg.Role)
			if msg.Sentiment != "" {
				fmt.Fprintf(out, " (%s)", msg.Sentiment)
			}
			if msg.Attachment != nil {
				fmt.Fprintf(out, " <%s>", msg.Attachment.Name)
			}
			fmt.Fprintf(out, "\n%s\n\n", msg.Content)
		}
		return nil
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
}
