package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/okian/matchcast/internal/client"
	"github.com/okian/matchcast/internal/client/state"
	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/feed"
	"github.com/okian/matchcast/pkg/logger"
)

type globalFlags struct {
	url       string
	token     string
	attempts  int
	logFormat string
	logLevel  string
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "matchcast-viewer",
		Short:        "Follow live matches from a matchcast server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.InitWith(cmd.ErrOrStderr(), logger.Format(g.logFormat)); err != nil {
				return err
			}
			return logger.SetLevelString(g.logLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.url, "url", "ws://localhost:9080/ws", "websocket endpoint of the server")
	pf.StringVar(&g.token, "token", "", "bearer token for the channel")
	pf.IntVar(&g.attempts, "attempts", client.DefaultMaxReconnectAttempts, "connection attempts before giving up")
	pf.StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newWatchCommand(g), newStartCommand(g))
	return root
}

func newWatchCommand(g *globalFlags) *cobra.Command {
	var home, away model.Team
	cmd := &cobra.Command{
		Use:   "watch <matchID>",
		Short: "Subscribe to a match and print the score as it changes",
		Example: `  matchcast-viewer watch 42
  matchcast-viewer watch 42 --home-id 1 --home-name A --away-id 2 --away-name B`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.New()
			req := model.StartMatchRequest{MatchID: args[0], HomeTeam: home, AwayTeam: away}
			if home.ID != 0 || away.ID != 0 {
				store.Track(req)
			}
			return follow(cmd.Context(), cmd.OutOrStdout(), g, store, args[0], nil)
		},
	}
	f := cmd.Flags()
	f.Int64Var(&home.ID, "home-id", 0, "home team id")
	f.StringVar(&home.Name, "home-name", "", "home team name")
	f.Int64Var(&away.ID, "away-id", 0, "away team id")
	f.StringVar(&away.Name, "away-name", "", "away team name")
	return cmd
}

func newStartCommand(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the match described by a script and watch it",
		Example: `  matchcast-viewer start --file match.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := feed.Load(file)
			if err != nil {
				return err
			}
			req := s.StartRequest()
			return follow(cmd.Context(), cmd.OutOrStdout(), g, state.New(), req.MatchID, &req)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "match script (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// follow connects, optionally starts req, subscribes to matchID and prints
// the projection after every event until the match ends or ctx is done.
func follow(ctx context.Context, out io.Writer, g *globalFlags, store *state.Store, matchID string, req *model.StartMatchRequest) error {
	m := client.New(g.url,
		client.WithToken(g.token),
		client.WithMaxReconnectAttempts(g.attempts),
		client.WithStore(store),
	)
	defer m.Disconnect()

	streams := m.Streams()
	events := streams.Events()
	ended := streams.MatchEnded()
	errs := streams.Errors()

	if err := m.Connect(ctx); err != nil {
		return err
	}
	if req != nil {
		if err := m.StartMatch(ctx, *req); err != nil {
			return err
		}
		fmt.Fprintf(out, "started match %s: %s vs %s\n", req.MatchID, req.HomeTeam.Name, req.AwayTeam.Name)
	}
	if err := m.SubscribeToMatch(ctx, matchID); err != nil {
		return err
	}
	fmt.Fprintf(out, "watching match %s\n", matchID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events.C:
			if !ok {
				return nil
			}
			if ev.MatchID == matchID {
				printEvent(out, store, ev)
			}
		case id, ok := <-ended.C:
			if !ok {
				return nil
			}
			if id == matchID {
				drain(out, store, events.C, matchID)
				printFinal(out, store)
				return nil
			}
		case msg, ok := <-errs.C:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "error: %s\n", msg)
			// A drop with reconnect pending leaves the manager connecting; only
			// a spent budget leaves it disconnected.
			if m.State() == client.StateDisconnected {
				return errors.New(msg)
			}
		}
	}
}

// drain prints events already delivered ahead of the end signal.
func drain(out io.Writer, store *state.Store, events <-chan model.MatchEvent, matchID string) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.MatchID == matchID {
				printEvent(out, store, ev)
			}
		default:
			return
		}
	}
}

func printEvent(out io.Writer, store *state.Store, ev model.MatchEvent) {
	snap, ok := store.Snapshot()
	if !ok {
		return
	}
	who := ev.TeamName
	if who == "" {
		who = fmt.Sprintf("team %d", ev.TeamID)
	}
	line := fmt.Sprintf("%3d' %s %d-%d %s  %s (%s)", ev.Minute,
		teamName(snap.HomeTeam, "home"), snap.Score.Home, snap.Score.Away, teamName(snap.AwayTeam, "away"),
		ev.Type, who)
	if ev.Player != nil {
		line += " " + ev.Player.Name
	}
	fmt.Fprintln(out, line)
}

func printFinal(out io.Writer, store *state.Store) {
	snap, ok := store.Snapshot()
	if !ok {
		fmt.Fprintln(out, "match ended")
		return
	}
	fmt.Fprintf(out, "full time: %s %d-%d %s\n",
		teamName(snap.HomeTeam, "home"), snap.Score.Home, snap.Score.Away, teamName(snap.AwayTeam, "away"))
}

func teamName(t model.Team, fallback string) string {
	if t.Name != "" {
		return t.Name
	}
	return fallback
}
