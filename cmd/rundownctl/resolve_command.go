package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"playout-orchestrator/internal/infinites"
	"playout-orchestrator/internal/rundown"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var partID, playheadID, output string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the piece instances a part would get when nexted",
		Long: "Activates the fixture playlist, optionally takes --playhead on air, " +
			"then nexts --part and lists its resolved piece instances.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if partID == "" {
				return fmt.Errorf("--part is required")
			}
			s, err := ctx.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			if playheadID != "" {
				if err := s.svc.SetNext(cmd.Context(), s.playlistID, playheadID); err != nil {
					return err
				}
				if err := s.svc.Take(cmd.Context(), s.playlistID); err != nil {
					return err
				}
			}
			if err := s.svc.SetNext(cmd.Context(), s.playlistID, partID); err != nil {
				return err
			}
			state, err := s.svc.State(cmd.Context(), s.playlistID)
			if err != nil {
				return err
			}
			if state.Next == nil {
				return fmt.Errorf("part %q was not nexted", partID)
			}
			layers := s.sourceLayers(state.Next.RundownID)
			return writePieces(cmd.OutOrStdout(), output, state.Next.PieceInstances, layers)
		},
	}

	cmd.Flags().StringVar(&partID, "part", "", "Part to resolve")
	cmd.Flags().StringVar(&playheadID, "playhead", "", "Part to put on air first")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	return cmd
}

// writePieces prints the instances of a part. The table also shows how the
// timing stack resolves them before playback starts.
func writePieces(out io.Writer, format string, pieces []*rundown.PieceInstance, layers rundown.SourceLayers) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(pieces)
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(pieces) == 0 {
		fmt.Fprintln(out, "No piece instances")
		return nil
	}
	resolved := make(map[string]*infinites.ResolvedPieceInstance)
	for _, r := range infinites.ResolveTimings(layers, pieces, infinites.TimingOptions{KeepDisabled: true, IncludeVirtual: true}) {
		resolved[r.Instance.ID] = r
	}

	rows := make([][]string, 0, len(pieces))
	for _, pi := range pieces {
		infinite := ""
		if pi.Infinite != nil {
			infinite = pi.Infinite.InfiniteInstanceID
		}
		end, tier := "dropped", ""
		if r, ok := resolved[pi.ID]; ok {
			end = "-"
			if r.ResolvedEnd != nil {
				end = r.ResolvedEnd.String()
			}
			tier = strconv.Itoa(int(r.Priority))
		}
		rows = append(rows, []string{
			pi.ID,
			pi.Piece.ID,
			pi.Piece.SourceLayerID,
			string(pi.Piece.Lifespan),
			pi.Piece.Enable.Start.String(),
			end,
			tier,
			origin(pi),
			infinite,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Instance", "Piece", "Layer", "Lifespan", "Start", "End", "Tier", "Origin", "Infinite"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
	return nil
}

func origin(pi *rundown.PieceInstance) string {
	switch {
	case pi.Infinite == nil || !pi.Infinite.FromPreviousPart:
		return "own"
	case pi.Infinite.FromPreviousPlayhead:
		return "playhead"
	default:
		return "inherited"
	}
}
