package label

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"medvol/internal/models"
)

// centroid is a box centroid in patient space, tagged with its box
type centroid struct {
	X, Y, Z float64
	box     int
}

// Compare implements the kdtree.Comparable interface
func (p centroid) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(centroid)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

func (p centroid) Dims() int { return 3 }

// Distance returns the squared Euclidean distance
func (p centroid) Distance(c kdtree.Comparable) float64 {
	q := c.(centroid)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

type centroids []centroid

func (p centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p centroids) Len() int                              { return len(p) }
func (p centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{centroids: p, Dim: d}, kdtree.MedianOfRandoms(centroidPlane{centroids: p, Dim: d}, 100))
}

// centroidPlane implements sort.Interface and kdtree.SortSlicer
type centroidPlane struct {
	centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.centroids[i].X < p.centroids[j].X
	case 1:
		return p.centroids[i].Y < p.centroids[j].Y
	case 2:
		return p.centroids[i].Z < p.centroids[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{centroids: p.centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.centroids[i], p.centroids[j] = p.centroids[j], p.centroids[i]
}

// Locator answers "which labelled component is near this point" queries over
// a set of boxes, such as mapping a click in a fused view to an annotation.
type Locator struct {
	boxes []Box
	tree  *kdtree.Tree
}

// NewLocator indexes the centroids of boxes.
func NewLocator(boxes []Box) *Locator {
	l := &Locator{boxes: boxes}
	if len(boxes) == 0 {
		return l
	}
	points := make(centroids, len(boxes))
	for i, b := range boxes {
		points[i] = centroid{X: b.Centroid[0], Y: b.Centroid[1], Z: b.Centroid[2], box: i}
	}
	l.tree = kdtree.New(points, true)
	return l
}

// Nearest returns the box whose centroid is closest to p and the distance
// to it in millimetres. ok is false when the locator is empty.
func (l *Locator) Nearest(p models.Vec3) (b Box, dist float64, ok bool) {
	if l.tree == nil {
		return Box{}, 0, false
	}
	got, d2 := l.tree.Nearest(centroid{X: p[0], Y: p[1], Z: p[2]})
	if got == nil {
		return Box{}, 0, false
	}
	return l.boxes[got.(centroid).box], math.Sqrt(d2), true
}

// Within returns the boxes whose centroids lie within radius millimetres of
// p, nearest first.
func (l *Locator) Within(p models.Vec3, radius float64) []Box {
	if l.tree == nil || radius < 0 {
		return nil
	}

	keeper := kdtree.NewDistKeeper(radius * radius)
	l.tree.NearestSet(keeper, centroid{X: p[0], Y: p[1], Z: p[2]})

	items := make([]kdtree.ComparableDist, 0, keeper.Len())
	for _, item := range keeper.Heap {
		if item.Comparable == nil {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Dist < items[j].Dist
	})

	out := make([]Box, len(items))
	for i, item := range items {
		out[i] = l.boxes[item.Comparable.(centroid).box]
	}
	return out
}

// Contains returns the boxes whose physical extent contains p. Extents are
// compared per axis, so this is exact only for axis-aligned directions.
func (l *Locator) Contains(p models.Vec3) []Box {
	var out []Box
	for _, b := range l.boxes {
		inside := true
		for a := 0; a < 3; a++ {
			lo := math.Min(b.PhysicalMin[a], b.PhysicalMax[a])
			hi := math.Max(b.PhysicalMin[a], b.PhysicalMax[a])
			if p[a] < lo || p[a] > hi {
				inside = false
				break
			}
		}
		if inside {
			out = append(out, b)
		}
	}
	return out
}
