package osm

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Layer is one of the OSM feature sets the pipeline ingests.
type Layer int

const (
	Buildings Layer = iota
	Roads
	Water
)

// Layers lists every layer in ingestion order.
var Layers = []Layer{Buildings, Roads, Water}

func (l Layer) String() string {
	switch l {
	case Buildings:
		return "buildings"
	case Roads:
		return "roads"
	case Water:
		return "water"
	default:
		return "layer(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLayer maps a layer name back to its Layer.
func ParseLayer(name string) (Layer, error) {
	for _, l := range Layers {
		if l.String() == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown OSM layer %q", name)
}

// driveFilter keeps publicly drivable ways, matching the usual "drive"
// network definition.
const driveFilter = `["highway"]["area"!~"yes"]["access"!~"private"]` +
	`["highway"!~"abandoned|bridleway|bus_guideway|construction|corridor|cycleway|elevator|escalator|footway|no|path|pedestrian|planned|platform|proposed|raceway|razed|service|steps|track"]` +
	`["motor_vehicle"!~"no"]["motorcar"!~"no"]` +
	`["service"!~"alley|driveway|emergency_access|parking|parking_aisle|private"]`

// Query builds the Overpass QL for the layer within bounds (lon/lat).
func (l Layer) Query(bounds orb.Bound, timeout time.Duration) string {
	bbox := strings.Join([]string{
		formatCoord(bounds.Min.Lat()),
		formatCoord(bounds.Min.Lon()),
		formatCoord(bounds.Max.Lat()),
		formatCoord(bounds.Max.Lon()),
	}, ",")

	var body string
	switch l {
	case Buildings:
		body = fmt.Sprintf(`(way["building"](%[1]s);relation["building"](%[1]s););`, bbox)
	case Roads:
		body = fmt.Sprintf(`way%s(%s);`, driveFilter, bbox)
	case Water:
		body = fmt.Sprintf(`(way["natural"="water"](%[1]s);relation["natural"="water"](%[1]s);`+
			`way["waterway"](%[1]s);relation["waterway"](%[1]s);`+
			`way["water"](%[1]s);relation["water"](%[1]s););`, bbox)
	}

	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 180
	}
	return fmt.Sprintf("[out:json][timeout:%d];%sout geom;", secs, body)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// features converts Overpass elements into GeoJSON features.
func (l Layer) features(elements []element) *domain.Vector {
	v := &domain.Vector{CRS: domain.WGS84, Features: []*geojson.Feature{}}
	for _, e := range elements {
		g := l.geometry(e)
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		f.ID = e.Type + "/" + strconv.FormatInt(e.ID, 10)
		for k, val := range e.Tags {
			f.Properties[k] = val
		}
		f.Properties["osm_id"] = e.ID
		f.Properties["osm_type"] = e.Type
		v.Features = append(v.Features, f)
	}
	return v
}

func (l Layer) geometry(e element) orb.Geometry {
	switch e.Type {
	case "node":
		if l == Roads || len(e.Tags) == 0 {
			return nil
		}
		return orb.Point{e.Lon, e.Lat}
	case "way":
		line := lineString(e.Geometry)
		if len(line) < 2 {
			return nil
		}
		if l.isArea(e.Tags) {
			if !closed(line) {
				if l == Buildings {
					return nil
				}
				return line
			}
			return orb.Polygon{orb.Ring(line)}
		}
		return line
	case "relation":
		return l.relationGeometry(e)
	}
	return nil
}

func (l Layer) isArea(tags map[string]string) bool {
	switch l {
	case Buildings:
		return true
	case Water:
		if tags["natural"] == "water" || tags["water"] != "" {
			return true
		}
		return tags["waterway"] == "riverbank" || tags["waterway"] == "dock"
	default:
		return false
	}
}

// relationGeometry assembles multipolygons from outer and inner members.
// Relations without closed outer rings become multilinestrings for the
// water layer and are dropped otherwise.
func (l Layer) relationGeometry(e element) orb.Geometry {
	var outer, inner []orb.LineString
	for _, m := range e.Members {
		if m.Type != "way" {
			continue
		}
		line := lineString(m.Geometry)
		if len(line) < 2 {
			continue
		}
		if m.Role == "inner" {
			inner = append(inner, line)
		} else {
			outer = append(outer, line)
		}
	}

	outerRings := stitch(outer)
	if len(outerRings) == 0 {
		if l != Water || len(outer) == 0 {
			return nil
		}
		return orb.MultiLineString(outer)
	}

	mp := make(orb.MultiPolygon, 0, len(outerRings))
	for _, r := range outerRings {
		mp = append(mp, orb.Polygon{r})
	}
	for _, hole := range stitch(inner) {
		for i := range mp {
			if planar.RingContains(mp[i][0], hole[0]) {
				mp[i] = append(mp[i], hole)
				break
			}
		}
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// stitch joins way segments end to end into closed rings. Segments that
// never close are discarded.
func stitch(segments []orb.LineString) []orb.Ring {
	var rings []orb.Ring
	pending := make([]orb.LineString, 0, len(segments))
	for _, s := range segments {
		if closed(s) {
			if len(s) >= 4 {
				rings = append(rings, orb.Ring(s))
			}
			continue
		}
		pending = append(pending, s)
	}

	for len(pending) > 0 {
		current := append(orb.LineString{}, pending[0]...)
		pending = pending[1:]

		for !closed(current) {
			joined := false
			for i, s := range pending {
				switch {
				case s[0].Equal(current[len(current)-1]):
					current = append(current, s[1:]...)
				case s[len(s)-1].Equal(current[len(current)-1]):
					current = append(current, reversed(s)[1:]...)
				default:
					continue
				}
				pending = append(pending[:i], pending[i+1:]...)
				joined = true
				break
			}
			if !joined {
				break
			}
		}
		if closed(current) && len(current) >= 4 {
			rings = append(rings, orb.Ring(current))
		}
	}
	return rings
}

func lineString(pts []latLon) orb.LineString {
	ls := make(orb.LineString, 0, len(pts))
	for _, p := range pts {
		ls = append(ls, orb.Point{p.Lon, p.Lat})
	}
	return ls
}

func closed(ls orb.LineString) bool {
	return len(ls) >= 2 && ls[0].Equal(ls[len(ls)-1])
}

func reversed(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[len(ls)-1-i] = p
	}
	return out
}
