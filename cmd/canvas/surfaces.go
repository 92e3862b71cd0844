package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/canvas/canvas"
)

func newSurfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "surfaces",
		Short: "List the surfaces in the configured store as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			engine, err := canvas.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer engine.Close()
			if err := engine.Start(cmd.Context()); err != nil {
				return err
			}

			list := engine.ListSurfaces()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"count": len(list), "surfaces": list})
		},
	}
}
