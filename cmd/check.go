package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/terracoord/digcheck/internal/conflict"
	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
)

var (
	checkStart   string
	checkEnd     string
	checkExclude string
)

var checkCmd = &cobra.Command{
	Use:   "check <geometry.geojson>",
	Short: "Run a one-shot conflict check against the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read geometry file %s", args[0])
		}
		g, err := geometry.ParseGeoJSON(raw)
		if err != nil {
			return err
		}
		normalized, err := buildValidator().Validate(g)
		if err != nil {
			return err
		}
		window, err := model.ParseWindow(checkStart, checkEnd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		result, err := buildDetector(st).Detect(ctx, conflict.Request{
			Geometry:         normalized,
			Window:           window,
			ExcludeProjectID: checkExclude,
		})
		if err != nil {
			return err
		}

		out := struct {
			*conflict.Result
			GeometryWarnings []string `json:"geometry_warnings,omitempty"`
		}{result, normalized.Warnings}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkStart, "start", "", "planned start date (YYYY-MM-DD)")
	checkCmd.Flags().StringVar(&checkEnd, "end", "", "planned end date (YYYY-MM-DD)")
	checkCmd.Flags().StringVar(&checkExclude, "exclude-project", "", "project ID to exclude from results")
	checkCmd.MarkFlagRequired("start")
	checkCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(checkCmd)
}
