package resample

import (
	"errors"
	"math"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"

	"medvol/internal/models"
	"medvol/pkg/interpolation"
)

var quiet = WithLogger(&log.Logger{Handler: discard.Default, Level: log.ErrorLevel})

// linearVolume holds x + 10y + 100z at voxel index (x, y, z)
func linearVolume(w, h, d int, spacing models.Vec3) *models.Volume {
	v := &models.Volume{
		Size:      models.Size{Width: w, Height: h, Depth: d},
		Spacing:   spacing,
		Direction: models.IdentityDirection,
		Modality:  models.PT,
		Channels:  1,
		Data:      make([]float64, w*h*d),
	}
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v.Data[v.Index(x, y, z, 0)] = float64(x + 10*y + 100*z)
			}
		}
	}
	return v
}

func TestResampleIdentity(t *testing.T) {
	v := linearVolume(4, 3, 2, models.Vec3{0.8, 0.8, 2.5})
	out, err := Resample(v, v, quiet)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	for i := range v.Data {
		if math.Abs(out[i]-v.Data[i]) > 1e-9 {
			t.Fatalf("Expected identity resample, voxel %d: %f != %f", i, out[i], v.Data[i])
		}
	}
}

func TestResampleShapeInvariant(t *testing.T) {
	tests := []struct {
		name      string
		primary   *models.Volume
		secondary *models.Volume
	}{
		{"coarse onto fine", linearVolume(8, 8, 4, models.Vec3{1, 1, 1}), linearVolume(4, 4, 2, models.Vec3{2, 2, 2})},
		{"fine onto coarse", linearVolume(4, 4, 2, models.Vec3{2, 2, 2}), linearVolume(8, 8, 4, models.Vec3{1, 1, 1})},
		{"anisotropic", linearVolume(5, 7, 3, models.Vec3{0.7, 0.7, 3}), linearVolume(2, 2, 9, models.Vec3{4, 4, 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resample(tt.secondary, tt.primary, quiet)
			if err != nil {
				t.Fatalf("Resample failed: %v", err)
			}
			if len(out) != len(tt.primary.Data) {
				t.Errorf("Expected %d values, got %d", len(tt.primary.Data), len(out))
			}
		})
	}
}

func TestResampleInterpolatesAndFillsBackground(t *testing.T) {
	primary := linearVolume(8, 8, 4, models.Vec3{1, 1, 1})
	secondary := linearVolume(4, 4, 2, models.Vec3{2, 2, 2})

	out, err := Resample(secondary, primary, quiet)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	// Primary voxel (3, 2, 1) sits at secondary index (1.5, 1, 0.5)
	got := out[primary.Index(3, 2, 1, 0)]
	want := 1.5 + 10*1 + 100*0.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, got)
	}

	// Primary x = 7 maps to secondary x = 3.5, outside the grid
	min, _ := secondary.MinMax()
	if got := out[primary.Index(7, 0, 0, 0)]; got != min {
		t.Errorf("Expected background %f, got %f", min, got)
	}
}

func TestResampleOriginShift(t *testing.T) {
	primary := linearVolume(4, 4, 1, models.Vec3{1, 1, 1})
	secondary := linearVolume(4, 4, 1, models.Vec3{1, 1, 1})
	secondary.Origin = models.Vec3{1, 0, 0}

	out, err := Resample(secondary, primary, WithSampler(interpolation.Nearest{}), quiet)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	// Primary x maps to secondary x-1
	if got := out[primary.Index(2, 1, 0, 0)]; got != 11 {
		t.Errorf("Expected 11, got %f", got)
	}
	if got := out[primary.Index(0, 1, 0, 0)]; got != 0 {
		t.Errorf("Expected background 0 at x=0, got %f", got)
	}
}

func TestResampleDegenerateSpacing(t *testing.T) {
	primary := linearVolume(4, 4, 2, models.Vec3{1, 1, 1})
	for _, s := range []models.Vec3{{0, 1, 1}, {1, 1, 0}, {1, -2, 1}, {1, math.NaN(), 1}} {
		secondary := linearVolume(4, 4, 2, s)
		_, err := Resample(secondary, primary, quiet)
		var gm *models.GeometryMismatchError
		if !errors.As(err, &gm) {
			t.Errorf("spacing %v: expected *GeometryMismatchError, got %v", s, err)
		}
	}
}

func TestResampleSingularDirection(t *testing.T) {
	primary := linearVolume(4, 4, 2, models.Vec3{1, 1, 1})
	secondary := linearVolume(4, 4, 2, models.Vec3{1, 1, 1})
	secondary.Direction = models.Direction{1, 0, 0, 1, 0, 0, 0, 0, 0}

	out, err := Resample(secondary, primary, quiet)
	if err != nil {
		t.Fatalf("Singular direction should be tolerated: %v", err)
	}
	for i := range out {
		if math.Abs(out[i]-secondary.Data[i]) > 1e-9 {
			t.Fatalf("Expected identity fallback, voxel %d: %f != %f", i, out[i], secondary.Data[i])
		}
	}
}

func TestResampleWorkersMatchSerial(t *testing.T) {
	primary := linearVolume(6, 5, 7, models.Vec3{1, 1, 1})
	secondary := linearVolume(3, 3, 3, models.Vec3{2, 2, 3})
	secondary.Origin = models.Vec3{0.5, -0.25, 1}

	serial, err := Resample(secondary, primary, quiet)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	calls := 0
	parallel, err := Resample(secondary, primary, quiet, WithWorkers(3), WithProgress(func(completed, total int, _ string) {
		calls++
		if total != primary.Size.Depth {
			t.Errorf("Expected total %d, got %d", primary.Size.Depth, total)
		}
	}))
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if calls != primary.Size.Depth {
		t.Errorf("Expected %d progress calls, got %d", primary.Size.Depth, calls)
	}
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("Voxel %d differs: %f != %f", i, serial[i], parallel[i])
		}
	}
}

func TestResampleRGBChannels(t *testing.T) {
	primary := linearVolume(2, 2, 1, models.Vec3{1, 1, 1})
	secondary := &models.Volume{
		Size:      models.Size{Width: 2, Height: 2, Depth: 1},
		Spacing:   models.Vec3{1, 1, 1},
		Direction: models.IdentityDirection,
		Channels:  3,
		Data:      []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}

	out, err := Resample(secondary, primary, quiet)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 12 {
		t.Fatalf("Expected 12 values, got %d", len(out))
	}
	for i := range out {
		if out[i] != secondary.Data[i] {
			t.Errorf("Value %d: expected %f, got %f", i, secondary.Data[i], out[i])
		}
	}
}

func TestAffineRoundTrip(t *testing.T) {
	v := linearVolume(4, 4, 4, models.Vec3{0.5, 0.75, 3})
	v.Origin = models.Vec3{-100, 50, 12}
	v.Direction = models.DirectionFromAxes(models.Vec3{1, 0, 0}, models.Vec3{0, 0, -1})

	a := NewAffine(v)
	idx := models.Vec3{1.5, 2, 0.25}

	p := a.IndexToPhysical(idx)
	if want := v.Physical(idx[0], idx[1], idx[2]); math.Abs(p[0]-want[0])+math.Abs(p[1]-want[1])+math.Abs(p[2]-want[2]) > 1e-9 {
		t.Errorf("IndexToPhysical = %v, Volume.Physical = %v", p, want)
	}

	back := a.PhysicalToIndex(p)
	for i := range idx {
		if math.Abs(back[i]-idx[i]) > 1e-9 {
			t.Errorf("Round trip %v -> %v -> %v", idx, p, back)
			break
		}
	}
}

func TestToVolume(t *testing.T) {
	primary := linearVolume(8, 8, 4, models.Vec3{1, 1, 1})
	primary.Modality = models.CT
	secondary := linearVolume(4, 4, 2, models.Vec3{2, 2, 2})

	v, err := ToVolume(secondary, primary, quiet)
	if err != nil {
		t.Fatalf("ToVolume failed: %v", err)
	}
	if err := v.Validate(); err != nil {
		t.Errorf("Resampled volume invalid: %v", err)
	}
	if v.Modality != models.PT || v.Size != primary.Size || v.Spacing != primary.Spacing {
		t.Errorf("Expected PT volume on the primary grid, got %s %s %v", v.Modality, v.Size, v.Spacing)
	}
}
