package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/terracoord/digcheck/internal/conflict"
	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/store"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q (want memory, sqlite, or postgres)", cfg.Store.Driver)
	}
}

func buildValidator() *geometry.Validator {
	return geometry.NewValidator(geometry.ValidatorConfig{
		MinLineLengthMeters: cfg.Detect.MinLineLengthMeters,
		MinPolygonAreaSqM:   cfg.Detect.MinPolygonAreaSqM,
		OperatingBBox:       cfg.Detect.OperatingBounds(),
	})
}

func buildDetector(st store.Store) *conflict.Detector {
	src := conflict.NewStoreSource(st)
	return conflict.NewDetector(src, src, conflict.Config{
		ProximityThresholdMeters: cfg.Detect.ProximityThresholdMeters,
		Timeout:                  time.Duration(cfg.Detect.TimeoutSecs) * time.Second,
	})
}
