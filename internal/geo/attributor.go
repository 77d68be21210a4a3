package geo

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

// Unit is one cadastral unit (katastrální území) boundary.
type Unit struct {
	Kod   int
	Nazev string
	geom  orb.MultiPolygon
	area  float64
}

// Attributor resolves GPS coordinates to cadastral units by point-in-polygon
// lookup over boundaries loaded once at startup.
type Attributor struct {
	units  []Unit
	logger *logrus.Logger
}

func NewAttributor(logger *logrus.Logger) *Attributor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Attributor{logger: logger}
}

// LoadBoundaries reads a GeoJSON feature collection of KÚ multipolygons.
// Features without a recognizable code or geometry are skipped.
func (a *Attributor) LoadBoundaries(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read boundaries file: %w", err)
	}
	return a.LoadGeoJSON(data)
}

// LoadGeoJSON parses and indexes boundary features from raw GeoJSON.
func (a *Attributor) LoadGeoJSON(data []byte) (int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("failed to parse boundaries GeoJSON: %w", err)
	}

	loaded := 0
	for _, feature := range fc.Features {
		kod := unitCode(feature.Properties)
		if kod == 0 {
			a.logger.WithField("properties", feature.Properties).
				Warn("Skipping boundary feature without a unit code")
			continue
		}

		var geom orb.MultiPolygon
		switch g := feature.Geometry.(type) {
		case orb.MultiPolygon:
			geom = g
		case orb.Polygon:
			geom = orb.MultiPolygon{g}
		default:
			a.logger.WithField("ku_kod", kod).Warn("Skipping non-polygon boundary feature")
			continue
		}

		a.units = append(a.units, Unit{
			Kod:   kod,
			Nazev: unitName(feature.Properties),
			geom:  geom,
			area:  planar.Area(geom),
		})
		loaded++
	}

	a.logger.WithField("count", loaded).Info("Loaded cadastral unit boundaries")
	return loaded, nil
}

// Len returns the number of loaded units.
func (a *Attributor) Len() int {
	return len(a.units)
}

// Resolve finds the cadastral unit containing the point. When boundaries
// touch or overlap, the smallest-area match wins; remaining ties go to the
// lowest unit code. ok is false when no unit contains the point.
func (a *Attributor) Resolve(lat, lng float64) (kod int, nazev string, ok bool) {
	point := orb.Point{lng, lat}

	var best *Unit
	for i := range a.units {
		u := &a.units[i]
		if !planar.MultiPolygonContains(u.geom, point) {
			continue
		}
		if best == nil || u.area < best.area || (u.area == best.area && u.Kod < best.Kod) {
			best = u
		}
	}

	if best == nil {
		return 0, "", false
	}
	return best.Kod, best.Nazev, true
}

// Attribute fills the property's cadastral fields from its coordinates.
// Missing coordinates or an out-of-bounds point leave the fields null; that
// is not an error. Returns true when the fields changed.
func (a *Attributor) Attribute(p *models.Property) bool {
	if p.Latitude == nil || p.Longitude == nil {
		if p.KuKod != nil {
			p.KuKod = nil
			p.KuNazev = ""
			return true
		}
		return false
	}

	kod, nazev, ok := a.Resolve(*p.Latitude, *p.Longitude)
	if !ok {
		if p.KuKod != nil {
			p.KuKod = nil
			p.KuNazev = ""
			return true
		}
		return false
	}

	if p.KuKod != nil && *p.KuKod == kod && p.KuNazev == nazev {
		return false
	}
	p.KuKod = &kod
	p.KuNazev = nazev
	return true
}

// unitCode tries the property keys seen across RUIAN exports.
func unitCode(props geojson.Properties) int {
	for _, key := range []string{"ku_kod", "KOD", "kod", "KOD_KU", "KU_KOD", "OBJECTID"} {
		if v, ok := props[key]; ok {
			switch n := v.(type) {
			case float64:
				return int(n)
			case int:
				return n
			}
		}
	}
	return 0
}

func unitName(props geojson.Properties) string {
	for _, key := range []string{"ku_nazev", "NAZEV", "nazev", "NAZEV_KU", "KU_NAZEV", "name"} {
		if v, ok := props[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
