package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"playout-orchestrator/internal/platform/logger"
	"playout-orchestrator/internal/playout"
	"playout-orchestrator/internal/rundown"
	"playout-orchestrator/internal/store"
)

// commandContext carries the persistent flags shared by all subcommands.
type commandContext struct {
	fixturePath string
	logLevel    string
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "rundownctl",
		Short:         "Resolve pieces and timelines of a rundown fixture offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.fixturePath, "fixture", "f", "", "Rundown fixture YAML file")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "warn", "Log level written to stderr")

	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newTimelineCommand(ctx))

	return rootCmd
}

// session is an activated playlist on a private in-memory store.
type session struct {
	svc        *playout.Service
	playlistID string
	studioID   string
	docs       rundown.Documents
}

// sourceLayers returns the source layers of the show style a rundown uses.
func (s *session) sourceLayers(rundownID string) rundown.SourceLayers {
	for _, r := range s.docs.Rundowns {
		if r.ID != rundownID {
			continue
		}
		for _, ss := range s.docs.ShowStyles {
			if ss.ID == r.ShowStyleBaseID {
				return ss.SourceLayers
			}
		}
	}
	return nil
}

// open seeds the fixture into a fresh store and activates its playlist. Ids
// are minted from a counter so output is stable between runs.
func (c *commandContext) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	if c.fixturePath == "" {
		return nil, fmt.Errorf("--fixture is required")
	}
	fx, err := rundown.LoadFixture(c.fixturePath)
	if err != nil {
		return nil, err
	}

	st := store.NewMemoryStore()
	if err := playout.Seed(ctx, st, fx); err != nil {
		return nil, err
	}

	log := logger.NewWriter(cmd.ErrOrStderr(), c.logLevel, "text")
	seq := 0
	var clock int64
	svc := playout.NewService(st, playout.NewWorker(0, log, nil), log, nil,
		playout.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("i%d", seq)
		}),
		playout.WithClock(func() int64 { return clock }),
	)
	if err := svc.Activate(ctx, fx.Playlist.ID, false); err != nil {
		return nil, fmt.Errorf("activate %s: %w", fx.Playlist.ID, err)
	}
	log.Debug("fixture activated", slog.String("playlist_id", fx.Playlist.ID))
	return &session{svc: svc, playlistID: fx.Playlist.ID, studioID: fx.Studio.ID, docs: fx.Documents()}, nil
}
