package cli

import (
	"github.com/spf13/cobra"

	"github.com/Philanthropists/mail2pdf/internal/datasource/gmail"
)

func newGmailAuthCommand() *cobra.Command {
	var credentialsFile, tokenFile string

	cmd := &cobra.Command{
		Use:   "gmail-auth",
		Short: "Create the stored OAuth token used by MAILBOX_TYPE=gmail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gmail.Authorize(cmd.Context(), credentialsFile, tokenFile, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&credentialsFile, "credentials", "credentials.json", "OAuth client credentials downloaded from the Google console")
	cmd.Flags().StringVar(&tokenFile, "token", "token.json", "where to store the token")
	return cmd
}
