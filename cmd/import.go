package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terracoord/digcheck/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <moratoriums.shp>",
	Short: "Import moratorium zones from a shapefile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		res, err := importer.LoadMoratoriums(ctx, args[0], buildValidator(), st)
		if err != nil {
			return err
		}

		zap.L().Info("import finished",
			zap.Int("imported", res.Imported),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
