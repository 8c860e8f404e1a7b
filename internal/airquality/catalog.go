package airquality

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/s2"
)

// ProximityTolerance is the per-axis tolerance, in degrees, for matching a
// coordinate to a catalog location.
const ProximityTolerance = 0.01

const earthRadiusMeters = 6371008.8

// Catalog is an immutable set of locations indexed by key.
type Catalog struct {
	locations []Location
	byKey     map[int64]Location
}

// NewCatalog builds a catalog. Later duplicates of a key are ignored.
func NewCatalog(locations []Location) *Catalog {
	c := &Catalog{byKey: make(map[int64]Location, len(locations))}
	for _, loc := range locations {
		if _, dup := c.byKey[loc.Key]; dup {
			continue
		}
		c.byKey[loc.Key] = loc
		c.locations = append(c.locations, loc)
	}
	sort.Slice(c.locations, func(i, j int) bool { return c.locations[i].Key < c.locations[j].Key })
	return c
}

// Locations returns the locations ordered by key.
func (c *Catalog) Locations() []Location {
	return append([]Location(nil), c.locations...)
}

// Len returns the number of locations.
func (c *Catalog) Len() int {
	return len(c.locations)
}

// ByKey looks up a location by key.
func (c *Catalog) ByKey(key int64) (Location, bool) {
	loc, ok := c.byKey[key]
	return loc, ok
}

// Match returns the closest location within ProximityTolerance on both axes.
func (c *Catalog) Match(lat, lon float64) (Location, bool) {
	origin := s2.LatLngFromDegrees(lat, lon)

	var (
		best     Location
		bestDist = math.Inf(1)
		found    bool
	)
	for _, loc := range c.locations {
		if !WithinTolerance(loc, lat, lon) {
			continue
		}
		d := origin.Distance(s2.LatLngFromDegrees(loc.Latitude, loc.Longitude)).Radians()
		if d < bestDist {
			best, bestDist, found = loc, d, true
		}
	}
	return best, found
}

// Nearest returns the closest location regardless of tolerance, with its
// great-circle distance in meters.
func (c *Catalog) Nearest(lat, lon float64) (Location, float64, bool) {
	if len(c.locations) == 0 {
		return Location{}, 0, false
	}
	origin := s2.LatLngFromDegrees(lat, lon)

	best := c.locations[0]
	bestDist := math.Inf(1)
	for _, loc := range c.locations {
		d := origin.Distance(s2.LatLngFromDegrees(loc.Latitude, loc.Longitude)).Radians()
		if d < bestDist {
			best, bestDist = loc, d
		}
	}
	return best, bestDist * earthRadiusMeters, true
}

// WithinTolerance reports whether loc lies within ProximityTolerance of lat/lon.
func WithinTolerance(loc Location, lat, lon float64) bool {
	return math.Abs(loc.Latitude-lat) < ProximityTolerance &&
		math.Abs(loc.Longitude-lon) < ProximityTolerance
}

// AdHocLocation describes a location that is not in the catalog.
func AdHocLocation(key int64, lat, lon float64) Location {
	if key != 0 {
		return Location{Key: key, Name: fmt.Sprintf("Location %d", key), District: "Hà Nội"}
	}
	return Location{
		Name:      fmt.Sprintf("Điểm %.3f, %.3f", lat, lon),
		District:  "Hà Nội",
		Latitude:  lat,
		Longitude: lon,
	}
}

// DefaultLocations is the built-in Hanoi district catalog, used when the gateway
// cannot supply one.
func DefaultLocations() []Location {
	return []Location{
		{Key: 1, Code: "LOC_001", Name: "Ba Đình", District: "Ba Đình", Latitude: 21.0333, Longitude: 105.8214},
		{Key: 2, Code: "LOC_002", Name: "Hoàn Kiếm", District: "Hoàn Kiếm", Latitude: 21.0285, Longitude: 105.8542},
		{Key: 3, Code: "LOC_003", Name: "Hai Bà Trưng", District: "Hai Bà Trưng", Latitude: 21.0075, Longitude: 105.8525},
		{Key: 4, Code: "LOC_004", Name: "Đống Đa", District: "Đống Đa", Latitude: 21.0167, Longitude: 105.8083},
		{Key: 5, Code: "LOC_005", Name: "Tây Hồ", District: "Tây Hồ", Latitude: 21.0758, Longitude: 105.8217},
		{Key: 6, Code: "LOC_006", Name: "Cầu Giấy", District: "Cầu Giấy", Latitude: 21.0333, Longitude: 105.7833},
		{Key: 7, Code: "LOC_007", Name: "Thanh Xuân", District: "Thanh Xuân", Latitude: 21.0167, Longitude: 105.7833},
		{Key: 8, Code: "LOC_008", Name: "Hoàng Mai", District: "Hoàng Mai", Latitude: 20.9742, Longitude: 105.8733},
		{Key: 9, Code: "LOC_009", Name: "Long Biên", District: "Long Biên", Latitude: 21.0458, Longitude: 105.8925},
		{Key: 10, Code: "LOC_010", Name: "Nam Từ Liêm", District: "Nam Từ Liêm", Latitude: 21.0139, Longitude: 105.7656},
		{Key: 11, Code: "LOC_011", Name: "Bắc Từ Liêm", District: "Bắc Từ Liêm", Latitude: 21.0667, Longitude: 105.7333},
		{Key: 12, Code: "LOC_012", Name: "Hà Đông", District: "Hà Đông", Latitude: 20.9717, Longitude: 105.7692},
		{Key: 13, Code: "LOC_013", Name: "Sơn Tây", District: "Sơn Tây", Latitude: 21.1333, Longitude: 105.5000},
		{Key: 14, Code: "LOC_014", Name: "Ba Vì", District: "Ba Vì", Latitude: 21.2500, Longitude: 105.4000},
		{Key: 15, Code: "LOC_015", Name: "Phúc Thọ", District: "Phúc Thọ", Latitude: 21.1167, Longitude: 105.4167},
		{Key: 16, Code: "LOC_016", Name: "Đan Phượng", District: "Đan Phượng", Latitude: 21.0833, Longitude: 105.6167},
		{Key: 17, Code: "LOC_017", Name: "Hoài Đức", District: "Hoài Đức", Latitude: 21.0000, Longitude: 105.6833},
		{Key: 18, Code: "LOC_018", Name: "Quốc Oai", District: "Quốc Oai", Latitude: 21.0333, Longitude: 105.6000},
		{Key: 19, Code: "LOC_019", Name: "Thạch Thất", District: "Thạch Thất", Latitude: 21.0167, Longitude: 105.5667},
		{Key: 20, Code: "LOC_020", Name: "Chương Mỹ", District: "Chương Mỹ", Latitude: 20.8667, Longitude: 105.7667},
		{Key: 21, Code: "LOC_021", Name: "Thanh Oai", District: "Thanh Oai", Latitude: 20.8500, Longitude: 105.8000},
		{Key: 22, Code: "LOC_022", Name: "Thường Tín", District: "Thường Tín", Latitude: 20.8333, Longitude: 105.8833},
		{Key: 23, Code: "LOC_023", Name: "Phú Xuyên", District: "Phú Xuyên", Latitude: 20.7167, Longitude: 105.9000},
		{Key: 24, Code: "LOC_024", Name: "Ứng Hòa", District: "Ứng Hòa", Latitude: 20.7167, Longitude: 105.7667},
		{Key: 25, Code: "LOC_025", Name: "Mỹ Đức", District: "Mỹ Đức", Latitude: 20.6833, Longitude: 105.8000},
		{Key: 26, Code: "LOC_026", Name: "Phú Nhuận", District: "Phú Nhuận", Latitude: 20.9500, Longitude: 105.7833},
		{Key: 27, Code: "LOC_027", Name: "Gò Vấp", District: "Gò Vấp", Latitude: 20.9667, Longitude: 105.8000},
		{Key: 28, Code: "LOC_028", Name: "Tân Bình", District: "Tân Bình", Latitude: 20.9833, Longitude: 105.8167},
		{Key: 29, Code: "LOC_029", Name: "Bình Thạnh", District: "Bình Thạnh", Latitude: 20.9667, Longitude: 105.8333},
		{Key: 30, Code: "LOC_030", Name: "Phú Yên", District: "Phú Yên", Latitude: 20.6500, Longitude: 105.7500},
	}
}
