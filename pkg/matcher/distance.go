package matcher

import (
	"math"

	"github.com/rmax-ai/rolematch/pkg/graph"
)

const earthRadiusMiles = 3958.7613

// DistanceMiles is the great-circle distance between a and b, rounded to
// two decimals.
func DistanceMiles(a, b graph.Location) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
	return math.Round(d*100) / 100
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
