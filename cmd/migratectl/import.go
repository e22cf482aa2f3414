package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

type importOptions struct {
	collection string
	format     string
	strategy   string
	delimiter  string
	keys       []string
	maps       []string
	require    []string
	resolve    []string
	apply      bool
}

func newImportCmd(c *cli) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a file into a collection (dry run unless --apply)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, c, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.collection, "collection", "", "Target collection (default: detected)")
	cmd.Flags().StringVar(&opts.format, "format", "", "Source format (default: detected)")
	cmd.Flags().StringVar(&opts.strategy, "strategy", string(core.MergeSkip), "Merge strategy: skip, overwrite, append, manual")
	cmd.Flags().StringVar(&opts.delimiter, "delimiter", "", "Field delimiter for delimited files (default: detected)")
	cmd.Flags().StringSliceVar(&opts.keys, "key", nil, "Key field(s) used to match existing records")
	cmd.Flags().StringArrayVar(&opts.maps, "map", nil, "Mapping source=target[:transform]; repeatable (default: headers as-is)")
	cmd.Flags().StringSliceVar(&opts.require, "require", nil, "Target fields that must be non-empty")
	cmd.Flags().StringArrayVar(&opts.resolve, "resolve", nil, "Manual resolution row=add|update|skip; repeatable")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Commit the import (default is dry-run)")

	return cmd
}

func runImport(cmd *cobra.Command, c *cli, path string, opts importOptions) error {
	ctx := cmd.Context()
	svc := c.service()
	out := cmd.OutOrStdout()

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	filename := filepath.Base(path)

	det := svc.DetectFormat(content, filename)
	format := core.SourceFormat(opts.format)
	if format == "" {
		format = det.Format
	}
	collection := opts.collection
	if collection == "" {
		collection = det.TargetCollection
	}
	if collection == "" {
		return fmt.Errorf("%w: no target collection detected; pass --collection", core.ErrInvalidRequest)
	}
	delimiter := opts.delimiter
	if delimiter == "" && (format == core.FormatCSV || format == core.FormatTSV) {
		delimiter = det.Delimiter
	}

	mappings, err := parseMappings(opts.maps)
	if err != nil {
		return err
	}
	resolutions, err := parseResolutions(opts.resolve)
	if err != nil {
		return err
	}

	b, err := svc.CreateBatch(ctx, core.CreateBatchRequest{
		Name:             filename,
		SourceFormat:     format,
		TargetCollection: collection,
		MergeStrategy:    core.MergeStrategy(opts.strategy),
		KeyFields:        opts.keys,
		Delimiter:        delimiter,
	})
	if err != nil {
		return err
	}
	if _, err := svc.UploadContent(ctx, b.ID, content, filename); err != nil {
		return err
	}
	if len(mappings) > 0 {
		if _, err := svc.SaveMappings(ctx, b.ID, mappings); err != nil {
			return err
		}
	}

	rules := make([]core.ValidationRule, 0, len(opts.require))
	for _, f := range opts.require {
		rules = append(rules, core.ValidationRule{Field: f, Kind: core.RuleRequired})
	}
	vr, err := svc.Validate(ctx, b.ID, rules)
	if err != nil {
		return err
	}

	preview, err := svc.Preview(ctx, b.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "batch %s: %s -> %s (%s, strategy %s)\n", b.ID, filename, collection, format, opts.strategy)
	fmt.Fprintf(out, "validation: %d errors, %d warnings\n", vr.ErrorCount, vr.WarningCount)
	writePreview(out, preview)

	if !opts.apply {
		fmt.Fprintln(out, "dry run: nothing written; re-run with --apply to commit")
		return nil
	}

	committed, err := svc.Commit(ctx, b.ID, core.CommitOptions{
		Resolutions: resolutions,
		Progress: func(percent int) {
			if percent%25 == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "commit %d%%\n", percent)
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: imported %d, skipped %d, errors %d\n",
		committed.Status, committed.ImportedRows, committed.SkippedRows, committed.ErrorRows)

	if committed.ErrorRows > 0 {
		errs, err := svc.GetErrors(ctx, b.ID)
		if err != nil {
			return err
		}
		for _, e := range errs {
			if e.Stage == core.StageCommit {
				fmt.Fprintf(out, "  row %d: %s\n", e.RowNumber, e.Message)
			}
		}
	}
	if c.recorder != nil {
		for _, e := range c.recorder.Events() {
			fmt.Fprintf(cmd.ErrOrStderr(), "event %s\n", e.Name)
		}
	}
	return nil
}

// writePreview prints the action counts and one line per row.
func writePreview(w io.Writer, p *core.PreviewResult) {
	s := p.Summary
	fmt.Fprintf(w, "preview: %d rows, %d add, %d update, %d skip, %d conflict, %d with errors\n",
		s.TotalRows, s.Add, s.Update, s.Skip, s.Conflict, s.ErrorRows)
	for _, d := range s.DuplicateKeys {
		fmt.Fprintf(w, "duplicate key %q in rows %v\n", d.Key, d.Rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tACTION\tKEY\tNOTES")
	for _, r := range p.Rows {
		var notes []string
		for _, c := range r.Conflicts {
			notes = append(notes, fmt.Sprintf("%s: %s -> %s", c.Field, c.Existing, c.Incoming))
		}
		for _, e := range r.Errors {
			notes = append(notes, e.Message)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.RowNumber, r.Action, r.Key, strings.Join(notes, "; "))
	}
	tw.Flush()
}

// parseMappings reads source=target[:transform] pairs.
func parseMappings(pairs []string) ([]core.FieldMapping, error) {
	out := make([]core.FieldMapping, 0, len(pairs))
	for _, pair := range pairs {
		src, rest, ok := strings.Cut(pair, "=")
		if !ok || src == "" || rest == "" {
			return nil, fmt.Errorf("%w: --map %q must be source=target[:transform]", core.ErrInvalidRequest, pair)
		}
		target, transform, _ := strings.Cut(rest, ":")
		out = append(out, core.FieldMapping{
			SourceField: src,
			TargetField: target,
			Transform:   core.Transform(transform),
		})
	}
	return out, nil
}

// parseResolutions reads row=action pairs.
func parseResolutions(pairs []string) (map[int]core.RowAction, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[int]core.RowAction, len(pairs))
	for _, pair := range pairs {
		row, action, ok := strings.Cut(pair, "=")
		n, err := strconv.Atoi(row)
		if !ok || err != nil || n < 1 {
			return nil, fmt.Errorf("%w: --resolve %q must be row=add|update|skip", core.ErrInvalidRequest, pair)
		}
		out[n] = core.RowAction(action)
	}
	return out, nil
}
