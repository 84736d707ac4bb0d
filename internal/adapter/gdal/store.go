// Package gdal reads and writes rasters through GDAL. Every dataset handle
// is closed before the call that opened it returns.
package gdal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/couchcryptid/geodata-etl/internal/domain"
)

var registerOnce sync.Once

// Store implements raster I/O with GeoTIFF output.
type Store struct {
	compression string
	logger      *slog.Logger
}

// NewStore registers the GDAL drivers and returns a store that writes
// GeoTIFFs with the given COMPRESS creation option ("" for none).
func NewStore(compression string, logger *slog.Logger) *Store {
	registerOnce.Do(godal.RegisterAll)
	return &Store{compression: strings.ToUpper(compression), logger: logger}
}

// ReadRaster loads every band of the raster at path into memory.
func (s *Store) ReadRaster(path string) (*domain.Raster, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, errors.Join(domain.ErrInvalidFile, err))
	}
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, domain.ErrInvalidFile)
	}
	defer ds.Close()

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("%s has no geotransform: %v: %w", path, err, domain.ErrInvalidFile)
	}
	crs, err := datasetCRS(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r := domain.NewRaster(st.SizeX, st.SizeY, st.NBands)
	r.Transform = domain.GeoTransform(gt)
	r.CRS = crs
	r.DataType = st.DataType.String()

	for i, band := range ds.Bands() {
		if err := band.Read(0, 0, r.Bands[i], st.SizeX, st.SizeY); err != nil {
			return nil, fmt.Errorf("read %s band %d: %v: %w", path, i+1, err, domain.ErrIO)
		}
		if i == 0 {
			if nd, ok := band.NoData(); ok {
				r.NoData = &nd
			}
		}
	}

	s.logger.Debug("raster read",
		"path", path,
		"crs", crs.String(),
		"width", r.Width,
		"height", r.Height,
		"bands", len(r.Bands),
		"data_type", r.DataType,
	)
	return r, nil
}

// datasetCRS identifies the EPSG code of the dataset projection. A dataset
// without a projection reports the zero CRS.
func datasetCRS(ds *godal.Dataset) (domain.CRS, error) {
	wkt := ds.Projection()
	if wkt == "" {
		return 0, nil
	}
	sr, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		return 0, fmt.Errorf("parse projection: %v: %w", err, domain.ErrUnsupportedCRS)
	}
	defer sr.Close()

	if sr.AuthorityName("") != "EPSG" {
		if err := sr.AutoIdentifyEPSG(); err != nil {
			return 0, fmt.Errorf("projection has no EPSG code: %v: %w", err, domain.ErrUnsupportedCRS)
		}
	}
	code, err := strconv.Atoi(sr.AuthorityCode(""))
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("projection authority code %q: %w", sr.AuthorityCode(""), domain.ErrUnsupportedCRS)
	}
	return domain.CRS(code), nil
}

// WriteRaster saves r as a GeoTIFF, keeping its data type, nodata value
// and band order.
func (s *Store) WriteRaster(path string, r *domain.Raster) (err error) {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.CRS.IsZero() {
		return fmt.Errorf("write %s: %w", path, domain.ErrMissingCRS)
	}
	dt, err := dataType(r.DataType)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %v: %w", filepath.Dir(path), err, domain.ErrIO)
	}

	var opts []godal.DatasetCreateOption
	if s.compression != "" && s.compression != "NONE" {
		opts = append(opts, godal.CreationOption("COMPRESS="+s.compression))
	}
	ds, err := godal.Create(godal.GTiff, path, len(r.Bands), dt, r.Width, r.Height, opts...)
	if err != nil {
		return fmt.Errorf("create %s: %v: %w", path, err, domain.ErrIO)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %v: %w", path, cerr, domain.ErrIO)
		}
	}()

	if err := ds.SetGeoTransform([6]float64(r.Transform)); err != nil {
		return fmt.Errorf("set geotransform on %s: %v: %w", path, err, domain.ErrIO)
	}
	sr, err := godal.NewSpatialRefFromEPSG(r.CRS.EPSG())
	if err != nil {
		return fmt.Errorf("%s: %v: %w", r.CRS, err, domain.ErrUnsupportedCRS)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("set crs on %s: %v: %w", path, err, domain.ErrIO)
	}

	for i, band := range ds.Bands() {
		if r.NoData != nil {
			if err := band.SetNoData(*r.NoData); err != nil {
				return fmt.Errorf("set nodata on %s band %d: %v: %w", path, i+1, err, domain.ErrIO)
			}
		}
		if err := band.Write(0, 0, r.Bands[i], r.Width, r.Height); err != nil {
			return fmt.Errorf("write %s band %d: %v: %w", path, i+1, err, domain.ErrIO)
		}
	}

	s.logger.Debug("raster written", "path", path, "crs", r.CRS.String(), "bands", len(r.Bands))
	return nil
}

// dataType maps a GDAL type name back to its godal constant. An empty name
// is written as Float64. Complex and unknown types cannot be held in a
// domain.Raster and are rejected.
func dataType(name string) (godal.DataType, error) {
	switch name {
	case "Byte":
		return godal.Byte, nil
	case "Int8":
		return godal.Int8, nil
	case "UInt16":
		return godal.UInt16, nil
	case "Int16":
		return godal.Int16, nil
	case "UInt32":
		return godal.UInt32, nil
	case "Int32":
		return godal.Int32, nil
	case "Float32":
		return godal.Float32, nil
	case "Float64", "":
		return godal.Float64, nil
	default:
		return godal.Unknown, fmt.Errorf("raster data type %q: %w", name, domain.ErrUnsupportedFormat)
	}
}
