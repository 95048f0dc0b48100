package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
)

func newSessionCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect editing sessions",
	}
	cmd.AddCommand(newSessionInfoCmd(g))
	return cmd
}

func newSessionInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show a session and whether it can still be edited",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			info, err := g.client().SessionInfo(cmd.Context(), sessionID, token)
			if err != nil {
				return err
			}

			fmt.Printf("Session:  %s\n", info.ID)
			fmt.Printf("File:     %s (%s, %d pages)\n", info.FileName, info.FileID, info.PageCount)
			fmt.Printf("Status:   %s\n", info.Status)
			fmt.Printf("Created:  %s\n", info.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Expires:  %s\n", info.ExpiresAt.Format(time.RFC3339))
			fmt.Printf("Edit:     %t\n", info.Permissions.CanEdit)
			fmt.Printf("Download: %t\n", info.Permissions.CanDownload)
			if err := oplog.CheckUsable(info, time.Now()); err != nil {
				fmt.Printf("Usable:   no (%v)\n", err)
			} else {
				fmt.Println("Usable:   yes")
			}
			return nil
		},
	}
}
