// Command genfixture writes a small synthetic dataset around a coordinate:
// a single-band Int16 DEM, a three-band UInt16 scene and building and road
// layers. The files let geoingest run end to end without network access.
//
// Usage:
//
//	go run ./cmd/genfixture -out data/fixtures -lat 18.94 -lon 72.83
//	go run ./cmd/geoingest run --dem-file data/fixtures/dem.tif \
//	  --satellite-file data/fixtures/scene.tif --skip-osm
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/couchcryptid/geodata-etl/internal/adapter/gdal"
	"github.com/couchcryptid/geodata-etl/internal/adapter/geojson"
	"github.com/couchcryptid/geodata-etl/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/fixtures", "output directory")
	lat := flag.Float64("lat", 18.94, "latitude of the fixture centre")
	lon := flag.Float64("lon", 72.83, "longitude of the fixture centre")
	size := flag.Int("size", 64, "raster width and height in cells")
	crs := flag.String("crs", "EPSG:4326", "CRS of the rasters: EPSG:4326 or \"utm\"")
	flag.Parse()

	if *size < 2 {
		return fmt.Errorf("-size must be at least 2")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projector := gdal.NewProjector()
	defer projector.Close()
	area, err := newArea(*lat, *lon, *size, *crs, projector, logger)
	if err != nil {
		return err
	}

	rasters := gdal.NewStore("LZW", logger)
	writeRaster := func(build func() (*domain.Raster, error)) func(string) error {
		return func(path string) error {
			r, err := build()
			if err != nil {
				return err
			}
			return rasters.WriteRaster(path, r)
		}
	}
	vectors := geojson.NewStore()

	files := []struct {
		name  string
		write func(string) error
	}{
		{"dem.tif", writeRaster(area.dem)},
		{"scene.tif", writeRaster(area.scene)},
		{"buildings.geojson", func(p string) error { return vectors.WriteVector(p, area.buildings()) }},
		{"roads.geojson", func(p string) error { return vectors.WriteVector(p, area.roads()) }},
	}
	for _, f := range files {
		path := filepath.Join(*out, f.name)
		if err := f.write(path); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		log.Printf("wrote %s", path)
	}
	log.Printf("fixtures in %s use %s", *out, area.crs)
	return nil
}
