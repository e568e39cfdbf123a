package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/storyturns/internal/config"
	"github.com/DoyleJ11/storyturns/internal/logging"
	"github.com/DoyleJ11/storyturns/internal/store"
)

var (
	historyRoom string
	historyID   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished stories",
	Long: `List the stories kept for a room, newest first. With --id the full
story of one transcript is printed.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRoom, "room", "", "room to list")
	historyCmd.Flags().StringVar(&historyID, "id", "", "transcript to print")
	historyCmd.MarkFlagsOneRequired("room", "id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	transcripts, err := store.New(db)
	if err != nil {
		return err
	}
	defer transcripts.Close()

	out := cmd.OutOrStdout()
	if historyID != "" {
		t, err := transcripts.Transcript(cmd.Context(), historyID)
		if err != nil {
			return err
		}
		printTranscript(out, t)
		return nil
	}

	list, err := transcripts.ListTranscripts(cmd.Context(), historyRoom)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(out, "no stories for room %s\n", historyRoom)
		return nil
	}
	printList(out, list)
	return nil
}

func printList(out io.Writer, list []store.Transcript) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAYED\tAS\tROUNDS\tWINNER")
	for _, t := range list {
		winner := "-"
		if len(t.Ranking) > 0 {
			winner = fmt.Sprintf("%s (%d)", t.Ranking[0].Player, t.Ranking[0].Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.CreatedAt.Local().Format("2006-01-02 15:04"), t.Participant, t.Rounds, winner)
	}
	_ = w.Flush()
}

func printTranscript(out io.Writer, t store.Transcript) {
	fmt.Fprintf(out, "room %s, played as %s on %s\n\n", t.Room, t.Participant, t.CreatedAt.Local().Format("2006-01-02 15:04"))
	view := &terminal{out: out}
	for _, e := range t.Story {
		view.printEntry(e)
	}
	fmt.Fprintln(out, "\nfinal scores:")
	for _, st := range t.Ranking {
		fmt.Fprintf(out, "  %d. %-16s %d\n", st.Rank, st.Player, st.Score)
	}
}
