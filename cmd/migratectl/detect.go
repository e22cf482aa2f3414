package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newDetectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE",
		Short: "Detect the format, delimiter, headers and likely target of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			res := c.service().DetectFormat(content, filepath.Base(args[0]))
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
