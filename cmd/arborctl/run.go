package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborstack/arbor-fdr/internal/engine"
	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/repo"
	"github.com/arborstack/arbor-fdr/internal/services"
	"github.com/arborstack/arbor-fdr/internal/store"
	"github.com/arborstack/arbor-fdr/internal/treeio"
)

var (
	runTree     string
	runScores   string
	runObs      string
	runSource   string
	runDataset  string
	runKind     string
	runTimeout  time.Duration
	runTest     string
	runAlpha    float64
	runMode     string
	runGrid     []float64
	runProfile  string
	runProfiles string
	runJSON     bool
	runSave     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis from local files or a dataset source",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd.Context())
		if err != nil {
			return err
		}
		logger := cliLogger()

		var svcStore services.RunStore
		if runSave {
			runStore, err := store.Open(storePath(), logger)
			if err != nil {
				return err
			}
			defer runStore.Close()
			svcStore = runStore
		}

		profiles, err := engine.LoadProfiles(runProfiles, logger)
		if err != nil {
			return fmt.Errorf("loading profiles: %w", err)
		}

		svc := services.NewAnalysisService(logger, engine.NewPipeline(logger, nil),
			svcStore, nil, profiles, nil, services.AnalysisOptions{})
		rec, err := svc.Analyze(cmd.Context(), req)
		if err != nil {
			return err
		}

		if runJSON {
			return printJSON(rec)
		}
		printRun(rec)
		if runSave {
			fmt.Printf("\nsaved run %s to %s\n", rec.RunID, storePath())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTree, "tree", "", "Tree file: newick, or a JSON tree document")
	runCmd.Flags().StringVar(&runScores, "scores", "", "Precomputed score table (.csv or .json)")
	runCmd.Flags().StringVar(&runObs, "observations", "", "Raw two-group observations (.json)")
	runCmd.Flags().StringVar(&runSource, "source", "", "Dataset source base URL instead of local files")
	runCmd.Flags().StringVar(&runDataset, "dataset", "", "Dataset name on the source")
	runCmd.Flags().StringVar(&runKind, "kind", "scores", "Data kind to fetch from the source: scores or observations")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "Source fetch timeout")
	runCmd.Flags().StringVar(&runTest, "test", "", "Two-sample test for observations: wilcoxon or welch")
	runCmd.Flags().Float64Var(&runAlpha, "alpha", 0, "Target false-discovery level (default 0.05)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Cross-feature mode: single or multiple")
	runCmd.Flags().Float64SliceVar(&runGrid, "grid", nil, "Tuning grid, ascending values in [0,1]")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "Named analysis profile")
	runCmd.Flags().StringVar(&runProfiles, "profiles", "", "Path to the analysis profiles file")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full run record as JSON")
	runCmd.Flags().BoolVar(&runSave, "save", false, "Persist the run into the run store")
	rootCmd.AddCommand(runCmd)
}

func buildRequest(ctx context.Context) (*models.AnalysisRequest, error) {
	req := &models.AnalysisRequest{Params: models.AnalysisParams{
		Test:    runTest,
		Alpha:   runAlpha,
		Mode:    runMode,
		Profile: runProfile,
	}}
	if len(runGrid) > 0 {
		req.Params.Grid = runGrid
	}

	if runSource != "" {
		if runDataset == "" {
			return nil, fmt.Errorf("--dataset is required with --source")
		}
		client := repo.NewSourceClient(runSource, runTimeout)
		doc, err := client.FetchTree(ctx, runDataset)
		if err != nil {
			return nil, err
		}
		req.Tree = doc
		switch runKind {
		case "scores":
			if req.Scores, err = client.FetchScores(ctx, runDataset); err != nil {
				return nil, err
			}
		case "observations":
			if req.Observations, err = client.FetchObservations(ctx, runDataset); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown --kind %q (want scores or observations)", runKind)
		}
		return req, nil
	}

	if runTree == "" {
		return nil, fmt.Errorf("--tree is required (or --source with --dataset)")
	}
	doc, err := treeio.ReadTreeDocument(runTree)
	if err != nil {
		return nil, err
	}
	req.Tree = doc

	switch {
	case runScores != "":
		if req.Scores, err = treeio.ReadScoresFile(runScores); err != nil {
			return nil, err
		}
	case runObs != "":
		if req.Observations, err = treeio.ReadObservationsFile(runObs); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("one of --scores or --observations is required")
	}
	return req, nil
}

func printRun(rec *models.RunRecord) {
	fmt.Printf("run %s\n", rec.RunID)
	fmt.Printf("mode %s  method %s  alpha %.3f  realized fdr %.4f  elapsed %dms\n",
		rec.Mode, rec.Method, rec.Alpha, rec.RealizedFDR, rec.ElapsedMS)
	if rec.Profile != "" {
		fmt.Printf("profile %s\n", rec.Profile)
	}

	fmt.Printf("\n%-20s %8s %8s %8s %10s\n", "FEATURE", "BEST T", "NODES", "SIGNALS", "ESTIMATE")
	for _, fr := range rec.Features {
		fmt.Printf("%-20s %8.2f %8d %8d %10.4f\n",
			fr.Feature, fr.BestT, len(fr.BestNodes), fr.Signals, fr.Estimate)
	}

	flagged := 0
	for _, row := range rec.Output {
		if row.Signal {
			flagged++
		}
	}
	fmt.Printf("\nflagged %d of %d output rows\n", flagged, len(rec.Output))
	if flagged == 0 {
		return
	}
	fmt.Printf("%-8s %-20s %12s %5s %12s\n", "NODE", "FEATURE", "PVALUE", "SIGN", "ADJ PVALUE")
	for _, row := range rec.Output {
		if !row.Signal {
			continue
		}
		fmt.Printf("%-8d %-20s %12.4g %5d %12.4g\n", row.Node, row.Feature, row.PValue, row.Sign, row.AdjP)
	}
}
