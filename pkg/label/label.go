// Package label turns integer label volumes (annotation masks) into 3D
// bounding boxes.
package label

import (
	"fmt"
	"math"
	"sort"

	"medvol/internal/models"
)

// Box is the axis-aligned bounding box of one connected component of a class.
// Min and Max are inclusive voxel indices (x, y, z).
type Box struct {
	Class  int
	Min    [3]int
	Max    [3]int
	Voxels int

	// PhysicalMin and PhysicalMax are the patient-space positions of the
	// Min and Max voxel centres
	PhysicalMin models.Vec3
	PhysicalMax models.Vec3

	// Centroid is the mean patient-space position of the component's voxels
	Centroid models.Vec3
}

// Size returns the box extent in voxels.
func (b Box) Size() models.Size {
	return models.Size{
		Width:  b.Max[0] - b.Min[0] + 1,
		Height: b.Max[1] - b.Min[1] + 1,
		Depth:  b.Max[2] - b.Min[2] + 1,
	}
}

func (b Box) String() string {
	return fmt.Sprintf("class %d: (%d,%d,%d)-(%d,%d,%d), %d voxels",
		b.Class, b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2], b.Voxels)
}

// BoundingBoxes finds the 6-connected components of every positive class in
// v and returns one box per component, ordered by class and then by the
// first voxel of each component in (z, y, x) scan order. Voxel values are
// rounded to the nearest integer; zero and negative values are background.
func BoundingBoxes(v *models.Volume) ([]Box, error) {
	if v.Channels != 1 {
		return nil, fmt.Errorf("label volume must have 1 channel, got %d", v.Channels)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}

	w, h, d := v.Size.Width, v.Size.Height, v.Size.Depth
	classes := make([]int, len(v.Data))
	for i, x := range v.Data {
		if math.IsNaN(x) {
			continue
		}
		classes[i] = int(math.Round(x))
	}

	visited := make([]bool, len(classes))
	var boxes []Box
	queue := make([]int, 0, 64)

	for start, class := range classes {
		if class <= 0 || visited[start] {
			continue
		}

		b := Box{Class: class}
		b.Min = [3]int{w, h, d}
		var sum [3]float64

		visited[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]

			x, y, z := i%w, (i/w)%h, i/(w*h)
			b.Voxels++
			sum[0] += float64(x)
			sum[1] += float64(y)
			sum[2] += float64(z)
			for a, c := range [3]int{x, y, z} {
				if c < b.Min[a] {
					b.Min[a] = c
				}
				if c > b.Max[a] {
					b.Max[a] = c
				}
			}

			for _, n := range neighbours(x, y, z, w, h, d) {
				if n >= 0 && !visited[n] && classes[n] == class {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}

		b.PhysicalMin = v.Physical(float64(b.Min[0]), float64(b.Min[1]), float64(b.Min[2]))
		b.PhysicalMax = v.Physical(float64(b.Max[0]), float64(b.Max[1]), float64(b.Max[2]))
		n := float64(b.Voxels)
		b.Centroid = v.Physical(sum[0]/n, sum[1]/n, sum[2]/n)
		boxes = append(boxes, b)
	}

	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Class < boxes[j].Class
	})
	return boxes, nil
}

// neighbours returns the flat indices of the six face neighbours, -1 where
// a neighbour falls outside the volume
func neighbours(x, y, z, w, h, d int) [6]int {
	idx := func(x, y, z int) int {
		if x < 0 || y < 0 || z < 0 || x >= w || y >= h || z >= d {
			return -1
		}
		return (z*h+y)*w + x
	}
	return [6]int{
		idx(x-1, y, z), idx(x+1, y, z),
		idx(x, y-1, z), idx(x, y+1, z),
		idx(x, y, z-1), idx(x, y, z+1),
	}
}

// Classes returns the distinct classes present in boxes, ascending.
func Classes(boxes []Box) []int {
	var out []int
	for _, b := range boxes {
		if len(out) == 0 || out[len(out)-1] != b.Class {
			out = append(out, b.Class)
		}
	}
	return out
}
