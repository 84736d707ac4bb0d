// Command geoingest ingests DEM, satellite and OpenStreetMap data into a
// local data tree, normalizes it to a common CRS and to its UTM zone, and
// records a hashed manifest for every file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/geodata-etl/internal/config"
	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/manifest"
	"github.com/couchcryptid/geodata-etl/internal/pipeline"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
	"github.com/urfave/cli/v3"
)

var errStagesFailed = errors.New("one or more stages failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "geoingest:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "geoingest",
		Usage: "Ingest and normalize geospatial data for a place",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Usage: "Root of the data tree (overrides DATA_DIR)"},
			&cli.StringFlag{Name: "target-crs", Usage: "Common CRS of the processed area (overrides TARGET_CRS)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (overrides LOG_LEVEL)"},
			&cli.StringFlag{Name: "http-addr", Usage: "Serve health, status and metrics on this address (overrides HTTP_ADDR)"},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newIngestCommand(),
			newNormalizeCommand(),
			newUTMCommand(),
			newConsolidateCommand(),
			newHashCommand(),
		},
	}
}

// loadConfig reads the environment and applies the global flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("data-dir") {
		cfg.DataDir = cmd.String("data-dir")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("http-addr") {
		cfg.HTTPAddr = cmd.String("http-addr")
	}
	if cmd.IsSet("target-crs") {
		c, err := domain.ParseCRS(cmd.String("target-crs"))
		if err != nil {
			return nil, fmt.Errorf("invalid --target-crs: %w", err)
		}
		cfg.TargetCRS = c
	}
	return cfg, nil
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "place", Usage: "Place to fetch OSM layers for (overrides PLACE_NAME)"},
		&cli.StringFlag{Name: "dem-file", Usage: "DEM GeoTIFF, local path or s3:// URI"},
		&cli.StringFlag{Name: "satellite-file", Usage: "Satellite scene (.jp2 or .tif), local path or s3:// URI"},
		&cli.StringFlag{Name: "dem-source", Usage: "DEM provider key: SRTM or Copernicus (overrides DEM_SOURCE)"},
		&cli.BoolFlag{Name: "dem-only", Usage: "Ingest only the DEM"},
		&cli.BoolFlag{Name: "satellite-only", Usage: "Ingest only the satellite scene"},
		&cli.BoolFlag{Name: "osm-only", Usage: "Ingest only the OSM layers"},
		&cli.BoolFlag{Name: "skip-dem", Usage: "Skip the DEM"},
		&cli.BoolFlag{Name: "skip-satellite", Usage: "Skip the satellite scene"},
		&cli.BoolFlag{Name: "skip-osm", Usage: "Skip the OSM layers"},
	}
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Ingest, normalize to the target CRS and to UTM, then consolidate manifests",
		Flags: append(selectionFlags(),
			&cli.BoolFlag{Name: "no-normalize", Usage: "Stop after ingestion"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runPipeline(ctx, cmd, !cmd.Bool("no-normalize"))
		},
	}
}

func newIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest sources into the raw area and consolidate its manifests",
		Flags: selectionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runPipeline(ctx, cmd, false)
		},
	}
}

func runPipeline(ctx context.Context, cmd *cli.Command, normalize bool) error {
	sel, err := pipeline.NewSelection(
		cmd.Bool("dem-only"), cmd.Bool("satellite-only"), cmd.Bool("osm-only"),
		cmd.Bool("skip-dem"), cmd.Bool("skip-satellite"), cmd.Bool("skip-osm"),
	)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	defer a.serve()()

	opts := pipeline.Options{
		Selection:     sel,
		Place:         cfg.PlaceName,
		DEMFile:       cmd.String("dem-file"),
		SatelliteFile: cmd.String("satellite-file"),
		DEMSource:     cfg.DEMSource,
		TargetCRS:     cfg.TargetCRS,
		Normalize:     normalize,
	}
	if cmd.IsSet("place") {
		opts.Place = cmd.String("place")
	}
	if cmd.IsSet("dem-source") {
		opts.DEMSource = cmd.String("dem-source")
	}

	summary := a.pipeline.Run(ctx, opts)
	summary.Print(os.Stdout)
	a.pushMetrics(context.WithoutCancel(ctx))

	if summary.Failed() {
		return fmt.Errorf("%d of %d stages: %w", summary.FailedCount(), len(summary.Stages), errStagesFailed)
	}
	return nil
}

func newNormalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "normalize",
		Usage: "Reproject one raster or GeoJSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Input raster or GeoJSON", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path", Required: true},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "EPSG code or \"utm\"", Value: "EPSG:4326"},
			&cli.StringFlag{Name: "resampling", Usage: "nearest or bilinear (default nearest, bilinear for utm)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target, err := pipeline.ParseTarget(cmd.String("target"))
			if err != nil {
				return err
			}
			rs := reproject.Nearest
			if target.UTM {
				rs = reproject.Bilinear
			}
			if cmd.IsSet("resampling") {
				if rs, err = reproject.ParseResampling(cmd.String("resampling")); err != nil {
					return err
				}
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			o, err := a.pipeline.NormalizeFile(cmd.String("input"), cmd.String("output"), target, rs)
			if err != nil {
				return err
			}
			if !o.Reprojected {
				fmt.Printf("%s already in %s, copied to %s\n", cmd.String("input"), o.TargetCRS, o.Path)
				return nil
			}
			fmt.Printf("reprojected %s from %s to %s: %s\n", cmd.String("input"), o.SourceCRS, o.TargetCRS, o.Path)
			return nil
		},
	}
}

func newUTMCommand() *cli.Command {
	return &cli.Command{
		Name:  "utm",
		Usage: "Print the UTM zone and EPSG code for a coordinate",
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "lat", Usage: "Latitude in degrees", Required: true},
			&cli.FloatFlag{Name: "lon", Usage: "Longitude in degrees", Required: true},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			zone, err := domain.ResolveUTM(cmd.Float("lat"), cmd.Float("lon"))
			if err != nil {
				return err
			}
			fmt.Printf("UTM zone %s (%s)\n", zone, zone.CRS())
			return nil
		},
	}
}

func newConsolidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "consolidate",
		Usage: "Rebuild the raw, processed and normalized area manifests",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			summary := a.pipeline.Consolidate(ctx)
			summary.Print(os.Stdout)
			if summary.Failed() {
				return errStagesFailed
			}
			return nil
		},
	}
}

func newHashCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash",
		Usage:     "Print the SHA-256 digest of files",
		ArgsUsage: "FILE...",
		Action: func(_ context.Context, cmd *cli.Command) error {
			files := cmd.Args().Slice()
			if len(files) == 0 {
				return errors.New("at least one file is required")
			}
			var failed bool
			for _, f := range files {
				h, err := manifest.Hash(f)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
					failed = true
					continue
				}
				fmt.Printf("%s  %s\n", h, f)
			}
			if failed {
				return errors.New("some files could not be hashed")
			}
			return nil
		},
	}
}
