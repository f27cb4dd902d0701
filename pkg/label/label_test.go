package label

import (
	"math"
	"testing"

	"medvol/internal/models"
)

func labelVolume(w, h, d int, set map[[3]int]float64) *models.Volume {
	v := &models.Volume{
		Size:      models.Size{Width: w, Height: h, Depth: d},
		Spacing:   models.Vec3{1, 1, 2},
		Origin:    models.Vec3{10, 20, 30},
		Direction: models.IdentityDirection,
		Channels:  1,
		Data:      make([]float64, w*h*d),
	}
	for p, c := range set {
		v.Data[v.Index(p[0], p[1], p[2], 0)] = c
	}
	return v
}

func fill(set map[[3]int]float64, min, max [3]int, class float64) {
	for z := min[2]; z <= max[2]; z++ {
		for y := min[1]; y <= max[1]; y++ {
			for x := min[0]; x <= max[0]; x++ {
				set[[3]int{x, y, z}] = class
			}
		}
	}
}

func TestBoundingBoxes(t *testing.T) {
	set := map[[3]int]float64{}
	fill(set, [3]int{0, 0, 0}, [3]int{1, 1, 1}, 1) // class 1, 8 voxels
	fill(set, [3]int{5, 4, 2}, [3]int{6, 4, 3}, 1) // class 1, separate component
	fill(set, [3]int{2, 0, 0}, [3]int{2, 1, 0}, 2) // class 2, touching the first class 1 box
	v := labelVolume(8, 6, 4, set)

	boxes, err := BoundingBoxes(v)
	if err != nil {
		t.Fatalf("BoundingBoxes failed: %v", err)
	}
	if len(boxes) != 3 {
		t.Fatalf("Expected 3 boxes, got %d: %v", len(boxes), boxes)
	}

	want := []struct {
		class    int
		min, max [3]int
		voxels   int
	}{
		{1, [3]int{0, 0, 0}, [3]int{1, 1, 1}, 8},
		{1, [3]int{5, 4, 2}, [3]int{6, 4, 3}, 4},
		{2, [3]int{2, 0, 0}, [3]int{2, 1, 0}, 2},
	}
	for i, w := range want {
		b := boxes[i]
		if b.Class != w.class || b.Min != w.min || b.Max != w.max || b.Voxels != w.voxels {
			t.Errorf("Box %d: expected class %d %v-%v (%d voxels), got %s", i, w.class, w.min, w.max, w.voxels, b)
		}
	}

	if got := Classes(boxes); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected classes [1 2], got %v", got)
	}
	if s := boxes[1].Size(); s.Width != 2 || s.Height != 1 || s.Depth != 2 {
		t.Errorf("Unexpected box size %s", s)
	}
}

func TestBoundingBoxesPhysical(t *testing.T) {
	set := map[[3]int]float64{}
	fill(set, [3]int{1, 2, 1}, [3]int{3, 2, 2}, 4)
	v := labelVolume(5, 5, 3, set)

	boxes, err := BoundingBoxes(v)
	if err != nil {
		t.Fatalf("BoundingBoxes failed: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d", len(boxes))
	}
	b := boxes[0]

	if b.PhysicalMin != (models.Vec3{11, 22, 32}) {
		t.Errorf("Expected physical min (11, 22, 32), got %v", b.PhysicalMin)
	}
	if b.PhysicalMax != (models.Vec3{13, 22, 34}) {
		t.Errorf("Expected physical max (13, 22, 34), got %v", b.PhysicalMax)
	}
	want := models.Vec3{12, 22, 33}
	for i := range want {
		if math.Abs(b.Centroid[i]-want[i]) > 1e-9 {
			t.Errorf("Expected centroid %v, got %v", want, b.Centroid)
			break
		}
	}
}

func TestBoundingBoxesRoundsAndIgnoresBackground(t *testing.T) {
	v := labelVolume(3, 1, 1, nil)
	v.Data = []float64{0.9, math.NaN(), -1}

	boxes, err := BoundingBoxes(v)
	if err != nil {
		t.Fatalf("BoundingBoxes failed: %v", err)
	}
	if len(boxes) != 1 || boxes[0].Class != 1 || boxes[0].Voxels != 1 {
		t.Errorf("Expected one class 1 voxel, got %v", boxes)
	}

	empty, err := BoundingBoxes(labelVolume(2, 2, 2, nil))
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no boxes for an empty mask, got %v (%v)", empty, err)
	}
}

func TestBoundingBoxesRejectsRGB(t *testing.T) {
	v := &models.Volume{
		Size:     models.Size{Width: 1, Height: 1, Depth: 1},
		Spacing:  models.Vec3{1, 1, 1},
		Channels: 3,
		Data:     []float64{1, 1, 1},
	}
	if _, err := BoundingBoxes(v); err == nil {
		t.Error("Expected error for an RGB label volume")
	}
}

func TestLocator(t *testing.T) {
	boxes := []Box{
		{Class: 1, Centroid: models.Vec3{0, 0, 0}, PhysicalMin: models.Vec3{-1, -1, -1}, PhysicalMax: models.Vec3{1, 1, 1}},
		{Class: 2, Centroid: models.Vec3{10, 0, 0}, PhysicalMin: models.Vec3{9, -1, -1}, PhysicalMax: models.Vec3{11, 1, 1}},
		{Class: 3, Centroid: models.Vec3{0, 20, 5}, PhysicalMin: models.Vec3{-2, 18, 3}, PhysicalMax: models.Vec3{2, 22, 7}},
	}
	l := NewLocator(boxes)

	b, dist, ok := l.Nearest(models.Vec3{8, 0, 0})
	if !ok || b.Class != 2 || math.Abs(dist-2) > 1e-9 {
		t.Errorf("Expected class 2 at distance 2, got class %d at %f (ok=%v)", b.Class, dist, ok)
	}

	within := l.Within(models.Vec3{4, 0, 0}, 7)
	if len(within) != 2 || within[0].Class != 1 || within[1].Class != 2 {
		t.Errorf("Expected classes 1 then 2 within 7mm, got %v", within)
	}
	if got := l.Within(models.Vec3{100, 100, 100}, 1); len(got) != 0 {
		t.Errorf("Expected nothing within 1mm of a far point, got %v", got)
	}

	inside := l.Contains(models.Vec3{1, 19, 4})
	if len(inside) != 1 || inside[0].Class != 3 {
		t.Errorf("Expected point inside class 3, got %v", inside)
	}
}

func TestLocatorEmpty(t *testing.T) {
	l := NewLocator(nil)
	if _, _, ok := l.Nearest(models.Vec3{}); ok {
		t.Error("Expected no result from an empty locator")
	}
	if got := l.Within(models.Vec3{}, 10); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}
