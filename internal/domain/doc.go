// Package domain models the geospatial datasets moved through the ingestion
// and normalization pipeline.
//
// # Coordinate Reference Systems
//
// Every dataset carries exactly one CRS, identified by its EPSG code. Only
// EPSG-coded systems are supported. The identifier forms accepted by
// [ParseCRS] are the ones seen in GeoTIFF metadata, GeoJSON "crs" members
// and command-line input:
//
//	EPSG:4326
//	4326
//	urn:ogc:def:crs:EPSG::4326
//	urn:ogc:def:crs:OGC:1.3:CRS84     (treated as EPSG:4326)
//	http://www.opengis.net/def/crs/EPSG/0/4326
//
// EPSG:4326 coordinates are handled in lon/lat axis order throughout.
//
// # UTM Zones
//
// The Universal Transverse Mercator system splits the globe into 60
// longitudinal zones, 6° wide, numbered eastward from 180°W. A zone is
// addressed by EPSG code:
//
//	32600 + zone   northern hemisphere (latitude >= 0)
//	32700 + zone   southern hemisphere
//
// Longitude 180° belongs to zone 60. See [ResolveUTM].
//
// # Rasters
//
// A [Raster] is a grid of cells described by a GDAL-style affine
// [GeoTransform]:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
//
// where (col, row) address cell corners. Cell centres sit at +0.5. Bands are
// stored row-major as float64 regardless of the on-disk data type, which is
// kept in [Raster.DataType] so writers can restore it.
//
// # Manifests
//
// A [Manifest] describes one file: where it came from, how big it is, when
// it was created, modified and ingested, and its SHA-256 digest. Extra
// fields are flattened into the top-level JSON object so stage-specific
// information (source CRS, resampling method) sits next to the fixed keys.
package domain
