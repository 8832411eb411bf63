package cli

import (
	"context"
	"fmt"

	"github.com/smallnest/tracker/config"
	"github.com/smallnest/tracker/tracker"
	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Import a YAML roadmap into an empty tracker",
	Run:   runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Roadmap YAML file (default: roadmap.seed_file)")
}

func runSeed(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	path := seedFile
	if path == "" {
		path = a.cfg.Roadmap.SeedFile
	}
	if path == "" {
		failf("roadmap file is required (--file or roadmap.seed_file)")
	}

	n, err := seedFromFile(context.Background(), a, config.ExpandUserPath(path))
	if err != nil {
		failf("Failed to seed roadmap: %v", err)
	}
	if n == 0 {
		fmt.Println("Tracker already has tasks, nothing imported")
		return
	}
	fmt.Printf("Imported %d tasks from %s\n", n, path)
}

func seedFromFile(ctx context.Context, a *app, path string) (int, error) {
	items, err := tracker.LoadRoadmap(path)
	if err != nil {
		return 0, err
	}
	return a.svc.SeedRoadmap(ctx, items)
}
