package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

func newExportCmd(c *cli) *cobra.Command {
	var (
		req    core.ExportRequest
		format string
		out    string
		title  string
	)

	cmd := &cobra.Command{
		Use:   "export COLLECTION",
		Short: "Export a collection as json, delimited, report, paginated or xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Collection = args[0]
			req.Format = core.ExportFormat(format)
			if title != "" {
				req.Letterhead = &core.Letterhead{Title: title}
			}

			job, err := c.service().Export(cmd.Context(), req)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(job.Result)
				return err
			}
			if err := os.WriteFile(out, job.Result, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records (%d bytes) to %s\n", job.RecordCount, job.Size, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(core.ExportJSON), "Output format: json, delimited, report, paginated, xlsx")
	cmd.Flags().StringSliceVar(&req.Columns, "columns", nil, "Columns to include, in order (default: all fields)")
	cmd.Flags().StringVar(&req.Delimiter, "delimiter", "", "Delimiter for delimited output (default ,)")
	cmd.Flags().IntVar(&req.Page, "page", 0, "Page number for paginated output")
	cmd.Flags().IntVar(&req.PageSize, "page-size", 0, "Page size for paginated output")
	cmd.Flags().StringVar(&req.Filters.DateFrom, "from", "", "Keep records dated on or after this date")
	cmd.Flags().StringVar(&req.Filters.DateTo, "to", "", "Keep records dated on or before this date")
	cmd.Flags().StringVar(&req.Filters.DateField, "date-field", "", "Field the date range applies to")
	cmd.Flags().StringToStringVar(&req.Filters.Equals, "where", nil, "Keep records whose field equals value (field=value)")
	cmd.Flags().StringVar(&title, "title", "", "Letterhead title for report output")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")

	return cmd
}
