package labeling

import (
	"bytes"
	"math"

	"github.com/google/uuid"
)

const earthRadiusMeters = 6371000

// Point is a geocoded report as seen by the clustering algorithm.
// Label is uuid.Nil until a group label has been assigned.
type Point struct {
	ReportID int64
	Label    uuid.UUID
	Lat      float64
	Lon      float64
}

// Relabel records that every report carrying label From must be moved to label To.
type Relabel struct {
	From uuid.UUID
	To   uuid.UUID
}

// Distance returns the great-circle distance between two coordinates in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Assign computes the group label for a newly added point against the
// candidate pool (same health signal, active status). Any candidate within
// thresholdMeters is connected. When connected candidates span several
// existing labels, all touched components are merged into the lowest label
// and the returned relabel operations move the rest; leaving them split
// would silently break one outbreak into disconnected alerts. When nothing
// is connected a fresh label is allocated.
func Assign(p Point, candidates []Point, thresholdMeters float64) (uuid.UUID, []Relabel) {
	var touched []uuid.UUID
	seen := make(map[uuid.UUID]bool)

	for _, c := range candidates {
		if c.ReportID == p.ReportID {
			continue
		}
		if Distance(p.Lat, p.Lon, c.Lat, c.Lon) > thresholdMeters {
			continue
		}
		if c.Label == uuid.Nil || seen[c.Label] {
			continue
		}
		seen[c.Label] = true
		touched = append(touched, c.Label)
	}

	if len(touched) == 0 {
		return uuid.New(), nil
	}

	representative := lowestLabel(touched)
	var relabels []Relabel
	for _, l := range touched {
		if l != representative {
			relabels = append(relabels, Relabel{From: l, To: representative})
		}
	}
	return representative, relabels
}

// Recompute partitions the surviving points of one label group into
// single-linkage connected components under thresholdMeters. A group that
// stays whole keeps its existing label, so re-running Recompute on a
// settled group yields the identical partition. A split allocates a fresh
// label per component; labels are never reused across disjoint clusters.
func Recompute(points []Point, thresholdMeters float64) map[int64]uuid.UUID {
	result := make(map[int64]uuid.UUID, len(points))
	if len(points) == 0 {
		return result
	}

	parent := make([]int, len(points))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if Distance(points[i].Lat, points[i].Lon, points[j].Lat, points[j].Lon) <= thresholdMeters {
				union(i, j)
			}
		}
	}

	components := make(map[int][]int)
	for i := range points {
		root := find(i)
		components[root] = append(components[root], i)
	}

	if len(components) == 1 {
		label := points[0].Label
		if label == uuid.Nil {
			label = uuid.New()
		}
		for _, p := range points {
			result[p.ReportID] = label
		}
		return result
	}

	for _, members := range components {
		label := uuid.New()
		for _, idx := range members {
			result[points[idx].ReportID] = label
		}
	}
	return result
}

func lowestLabel(labels []uuid.UUID) uuid.UUID {
	lowest := labels[0]
	for _, l := range labels[1:] {
		if bytes.Compare(l[:], lowest[:]) < 0 {
			lowest = l
		}
	}
	return lowest
}
