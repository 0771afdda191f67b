package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborstack/arbor-fdr/internal/insights"
	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/utils"
)

var (
	listLimit  int
	listOffset int
	listMode   string
	listSince  string
	listJSON   bool

	showJSON bool

	statsSince   string
	statsMinRuns int
	statsLimit   int
	statsJSON    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse the stored run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cliLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		q := models.ListRunsRequest{Limit: listLimit, Offset: listOffset, Mode: listMode}
		if listSince != "" {
			since, err := utils.ParseRFC3339(listSince)
			if err != nil {
				return err
			}
			q.Since = since
		}
		runs, err := st.ListRuns(cmd.Context(), q)
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(runs)
		}
		if len(runs) == 0 {
			fmt.Println("no stored runs")
			return nil
		}

		fmt.Printf("%-36s %-20s %-8s %8s %7s %8s %s\n",
			"RUN ID", "CREATED", "MODE", "FEATURES", "SIGNALS", "FDR", "PROFILE")
		for _, r := range runs {
			fmt.Printf("%-36s %-20s %-8s %8d %7d %8.4f %s\n",
				r.RunID, r.CreatedAt.UTC().Format(time.RFC3339), r.Mode,
				r.Features, r.Signals, r.RealizedFDR, r.Profile)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <runID>",
	Short: "Show one stored run in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cliLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if showJSON {
			return printJSON(rec)
		}
		fmt.Printf("created %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
		printRun(rec)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show nodes that keep flagging across stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cliLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		var since time.Time
		if statsSince != "" {
			if since, err = utils.ParseRFC3339(statsSince); err != nil {
				return err
			}
		}
		miner := insights.NewMiner(cliLogger(), st)
		spots, err := miner.Hotspots(cmd.Context(), since, statsMinRuns, statsLimit)
		if err != nil {
			return err
		}
		if statsJSON {
			return printJSON(spots)
		}
		if len(spots) == 0 {
			fmt.Println("no recurring signals")
			return nil
		}

		fmt.Printf("%-8s %5s %5s %12s %5s %-20s %s\n",
			"NODE", "HITS", "RUNS", "BEST ADJ P", "SIGN", "LAST SEEN", "FEATURES")
		for _, h := range spots {
			fmt.Printf("%-8d %5d %5d %12.4g %5d %-20s %s\n",
				h.Node, h.Hits, h.Runs, h.BestAdjP, h.NetSign,
				h.LastSeen.UTC().Format(time.RFC3339), strings.Join(h.Features, ","))
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum runs to list")
	runsListCmd.Flags().IntVar(&listOffset, "offset", 0, "Runs to skip before listing")
	runsListCmd.Flags().StringVar(&listMode, "mode", "", "Filter by mode: single or multiple")
	runsListCmd.Flags().StringVar(&listSince, "since", "", "Only runs created at or after this RFC3339 time")
	runsListCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")

	runsShowCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")

	runsStatsCmd.Flags().StringVar(&statsSince, "since", "", "Only runs created at or after this RFC3339 time")
	runsStatsCmd.Flags().IntVar(&statsMinRuns, "min-runs", 2, "Keep nodes flagged in at least this many runs")
	runsStatsCmd.Flags().IntVar(&statsLimit, "limit", 0, "Maximum hotspots to show")
	runsStatsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
