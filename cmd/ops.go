package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/export"
	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
)

func newOpsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Read and manage the operation log of a session",
	}
	cmd.AddCommand(newOpsListCmd(g))
	cmd.AddCommand(newOpsClearCmd(g))
	cmd.AddCommand(newOpsDeleteCmd(g))
	cmd.AddCommand(newOpsExportCmd(g))
	return cmd
}

func newOpsListCmd(g *globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the operation log in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			ops, err := g.client().ListOperations(cmd.Context(), sessionID, token)
			if err != nil {
				return err
			}

			switch format {
			case "text":
				return printOperations(ops)
			case export.FormatJSON, export.FormatYAML:
				return export.Write(os.Stdout, format, sessionID, ops)
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, or yaml)")
	return cmd
}

func printOperations(ops []models.Operation) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tTYPE\tPAGE\tIMAGE\tPLACEMENT\tPOSITION")
	for _, op := range ops {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			op.Order, op.Type, op.Data.Page+1, op.Data.ImageID, op.Data.PlacementID, describePosition(op.Data))
	}
	return w.Flush()
}

func describePosition(d models.OperationData) string {
	switch {
	case d.NewPosition != nil && d.OldPosition != nil:
		return fmt.Sprintf("%s -> %s", formatPosition(*d.OldPosition), formatPosition(*d.NewPosition))
	case d.NewPosition != nil:
		return formatPosition(*d.NewPosition)
	case d.Position != nil:
		return formatPosition(*d.Position)
	}
	return "-"
}

func formatPosition(p models.Position) string {
	return fmt.Sprintf("%.2f,%.2f %.2fx%.2f", p.X, p.Y, p.Width, p.Height)
}

func newOpsClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every operation of the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			if err := g.client().ClearOperations(cmd.Context(), sessionID, token); err != nil {
				return err
			}
			slog.Info("Operation log cleared", "session_id", sessionID)
			return nil
		},
	}
}

func newOpsDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <operation-id>",
		Short: "Delete a single operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			if err := g.client().DeleteOperation(cmd.Context(), sessionID, token, args[0]); err != nil {
				return err
			}
			slog.Info("Operation deleted", "session_id", sessionID, "operation_id", args[0])
			return nil
		},
	}
}

func newOpsExportCmd(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the operation log to JSON, YAML or Parquet",
		Long: `Exports the operation log of a session to a file. The format follows the
file extension: .json, .yaml/.yml or .parquet. Exported logs can be replayed
offline with "pdfstamp replay --log".`,
		Example: `  pdfstamp ops export --output session.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, token, err := g.session()
			if err != nil {
				return err
			}
			ops, err := g.client().ListOperations(cmd.Context(), sessionID, token)
			if err != nil {
				return err
			}
			if err := export.WriteFile(output, sessionID, ops); err != nil {
				return err
			}
			slog.Info("Operation log exported", "session_id", sessionID, "operations", len(ops), "path", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
