package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// CRS identifies a coordinate reference system by EPSG code.
// The zero value means the dataset has no CRS.
type CRS int

// WGS84 is geographic lon/lat on the WGS 84 datum.
const WGS84 CRS = 4326

// EPSG returns the numeric EPSG code.
func (c CRS) EPSG() int { return int(c) }

// IsZero reports whether no CRS is set.
func (c CRS) IsZero() bool { return c == 0 }

// IsGeographic reports whether coordinates are lon/lat degrees.
func (c CRS) IsGeographic() bool { return c == WGS84 }

func (c CRS) String() string {
	if c.IsZero() {
		return ""
	}
	return "EPSG:" + strconv.Itoa(int(c))
}

// MarshalText renders the CRS as "EPSG:<code>".
func (c CRS) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts any form understood by ParseCRS.
func (c *CRS) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = 0
		return nil
	}
	parsed, err := ParseCRS(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCRS parses an EPSG identifier. See the package documentation for the
// accepted forms.
func ParseCRS(s string) (CRS, error) {
	raw := strings.TrimSpace(s)
	v := strings.ToUpper(raw)

	switch {
	case v == "":
		return 0, fmt.Errorf("parse crs: %w", ErrMissingCRS)
	case v == "CRS84" || strings.HasSuffix(v, ":CRS84") || strings.HasSuffix(v, "/CRS84"):
		return WGS84, nil
	case strings.HasPrefix(v, "EPSG:"):
		v = strings.TrimPrefix(v, "EPSG:")
	case strings.HasPrefix(v, "URN:OGC:DEF:CRS:EPSG:"):
		// urn:ogc:def:crs:EPSG:<version>:<code>, version may be empty.
		v = v[strings.LastIndex(v, ":")+1:]
	case strings.Contains(v, "/DEF/CRS/EPSG/"):
		v = v[strings.LastIndex(v, "/")+1:]
	}

	code, err := strconv.Atoi(v)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("parse crs %q: %w", raw, ErrUnsupportedCRS)
	}
	return CRS(code), nil
}
