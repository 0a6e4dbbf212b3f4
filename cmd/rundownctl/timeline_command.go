package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"playout-orchestrator/internal/timeline"
)

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	var takes int
	var output string

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print the studio timeline after activating and taking parts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if takes < 0 {
				return fmt.Errorf("--takes must not be negative")
			}
			s, err := ctx.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			for i := range takes {
				if err := s.svc.Take(cmd.Context(), s.playlistID); err != nil {
					return fmt.Errorf("take %d: %w", i+1, err)
				}
			}
			tl, err := s.svc.Timeline(cmd.Context(), s.studioID)
			if err != nil {
				return err
			}
			return writeTimeline(cmd.OutOrStdout(), output, tl)
		},
	}

	cmd.Flags().IntVar(&takes, "takes", 0, "Number of takes after activation")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json or table")
	return cmd
}

func writeTimeline(out io.Writer, format string, tl *timeline.StudioTimeline) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tl)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	rows := make([][]string, 0, len(tl.Objects))
	for _, o := range tl.Objects {
		rows = append(rows, []string{o.ID, o.Layer, o.InGroup, describeEnable(o.Enable), fmt.Sprintf("%g", o.Priority)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Object", "Layer", "Group", "Enable", "Priority"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	fmt.Fprintf(out, "Hash: %s\n", tl.Hash)
	return nil
}

func describeEnable(e timeline.Enable) string {
	if e.While != "" {
		return "while " + e.While
	}
	s := ""
	if e.Start != nil {
		s = "start " + e.Start.String()
	}
	if e.End != nil {
		s += " end " + e.End.String()
	}
	if e.Duration != nil {
		s += fmt.Sprintf(" duration %d", *e.Duration)
	}
	return s
}
