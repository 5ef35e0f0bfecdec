package cli

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/internal/service/orchestrator"
)

var (
	askFile         string
	askConversation string
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt, optionally with a file, and print the reply",
	Long: `Send a prompt to the configured model and print the reply, the sentiment
of your prompt and suggested follow-up questions.

Each run starts a new conversation unless --conversation names an existing
one to continue. Conversation ids are printed after the reply and listed by
"chatty conversations list".

Examples:
  chatty ask "Hello"
  chatty ask "What is in this picture?" --file cat.png
  chatty ask --file notes.txt
  chatty ask "And after that?" --conversation 7b0c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "attach a file")
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "continue the conversation with this id")
}

func runAsk(cmd *cobra.Command, args []string) error {
	form := contract.Form{}
	if len(args) == 1 {
		form.Prompt = args[0]
	}

	if askFile != "" {
		uri, err := readAttachment(askFile)
		if err != nil {
			return err
		}
		form.PhotoDataURI = uri
		form.AttachmentName = filepath.Base(askFile)
	}

	result, err := application.Exchange(cmd.Context(), askConversation, form)
	if err != nil {
		if orchestrator.IsValidationError(err) {
			return fmt.Errorf("%s", orchestrator.UserMessage(err))
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Response)
	fmt.Fprintf(out, "\nSentiment: %s\n", result.Sentiment)
	if len(result.Suggestions) > 0 {
		fmt.Fprintln(out, "\nYou could ask next:")
		for i, s := range result.Suggestions {
			fmt.Fprintf(out, "  %d. %s\n", i+1, s)
		}
	}
	fmt.Fprintf(out, "\nConversation: %s\n", result.ConversationID)
	return nil
}

// readAttachment encodes a local file as a data URI.
func readAttachment(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	return contract.EncodeDataURI(mimeType, data), nil
}
