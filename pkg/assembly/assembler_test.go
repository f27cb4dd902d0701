package assembly

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"gopkg.in/guregu/null.v3"

	"medvol/internal/models"
)

var quiet = WithLogger(&log.Logger{Handler: discard.Default, Level: log.ErrorLevel})

// newRecord creates a 2x2 single-frame record whose pixels all equal value
func newRecord(study, series string, value float64) *models.SliceRecord {
	return &models.SliceRecord{
		Path:      fmt.Sprintf("%s-%s-%v.dcm", study, series, value),
		StudyKey:  study,
		SeriesKey: series,
		Shape:     models.FrameShape{Rows: 2, Cols: 2},
		Spacing:   models.Vec3{0.5, 0.5, 2},
		Direction: models.IdentityDirection,
		Modality:  models.CT,
		Channels:  1,
		Frames:    1,
		Pixels:    []float64{value, value, value, value},
	}
}

func withLocation(r *models.SliceRecord, loc float64) *models.SliceRecord {
	r.SliceLocation = null.FloatFrom(loc)
	return r
}

func withInstance(r *models.SliceRecord, n int64) *models.SliceRecord {
	r.InstanceNumber = null.IntFrom(n)
	return r
}

// depthValues returns the first voxel of every plane
func depthValues(v *models.Volume) []float64 {
	out := make([]float64, v.Size.Depth)
	for z := range out {
		out[z] = v.At(0, 0, z, 0)
	}
	return out
}

func TestStackingOrderBySliceLocation(t *testing.T) {
	locations := []float64{12.5, -3, 7, 0, 7, 100}
	var records []*models.SliceRecord
	for _, loc := range locations {
		records = append(records, withLocation(newRecord("s", "a", loc), loc))
	}

	result, reports, err := Assemble(records, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	vol, ok := result.Get("s", "a")
	if !ok {
		t.Fatal("Expected volume s/a")
	}
	if vol.Size.Depth != len(locations) {
		t.Fatalf("Expected depth %d, got %d", len(locations), vol.Size.Depth)
	}

	values := depthValues(vol)
	for z := 1; z < len(values); z++ {
		if values[z] < values[z-1] {
			t.Errorf("Depth axis not monotonic at %d: %v", z, values)
		}
	}

	if reports[0].OrderedBy != OrderSliceLocation {
		t.Errorf("Expected ordering by slice location, got %q", reports[0].OrderedBy)
	}
}

func TestFallbackToInstanceNumber(t *testing.T) {
	records := []*models.SliceRecord{
		withInstance(newRecord("s", "a", 30), 3),
		withInstance(newRecord("s", "a", 10), 1),
		withInstance(newRecord("s", "a", 20), 2),
	}

	result, reports, err := Assemble(records, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	vol, _ := result.Get("s", "a")
	want := []float64{10, 20, 30}
	got := depthValues(vol)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected depth order %v, got %v", want, got)
			break
		}
	}
	if reports[0].OrderedBy != OrderInstanceNumber {
		t.Errorf("Expected ordering by instance number, got %q", reports[0].OrderedBy)
	}
}

func TestSliceLocationDropsUnlocated(t *testing.T) {
	records := []*models.SliceRecord{
		withLocation(newRecord("s", "a", 2), 2),
		withInstance(newRecord("s", "a", 99), 1),
		withLocation(newRecord("s", "a", 1), 1),
	}

	result, reports, err := Assemble(records, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	vol, _ := result.Get("s", "a")
	if vol.Size.Depth != 2 {
		t.Errorf("Expected depth 2 after dropping unlocated slice, got %d", vol.Size.Depth)
	}
	if reports[0].Skipped != 1 {
		t.Errorf("Expected 1 skipped slice, got %d", reports[0].Skipped)
	}
}

func TestChannelMismatchSkipped(t *testing.T) {
	rgb := withLocation(newRecord("s", "a", 3), 3)
	rgb.Channels = 3
	rgb.Pixels = make([]float64, 12)

	records := []*models.SliceRecord{
		withLocation(newRecord("s", "a", 1), 1),
		rgb,
		withLocation(newRecord("s", "a", 2), 2),
	}

	result, reports, err := Assemble(records, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	vol, _ := result.Get("s", "a")
	if vol.Channels != 1 || vol.Size.Depth != 2 {
		t.Errorf("Expected two grayscale planes, got %d channel(s), depth %d", vol.Channels, vol.Size.Depth)
	}
	if reports[0].Skipped != 1 {
		t.Errorf("Expected the RGB record to be skipped, got %d skipped", reports[0].Skipped)
	}
}

func TestSingleSliceSeries(t *testing.T) {
	// No ordering keys at all: a single record never needs them
	result, reports, err := Assemble([]*models.SliceRecord{newRecord("s", "a", 5)}, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	vol, _ := result.Get("s", "a")
	if vol.Size.Depth != 1 {
		t.Errorf("Expected depth 1, got %d", vol.Size.Depth)
	}
	if vol.Size.Width != 2 || vol.Size.Height != 2 {
		t.Errorf("Expected 2x2 plane, got %s", vol.Size)
	}
	if reports[0].OrderedBy != OrderSingle {
		t.Errorf("Expected single-slice path, got %q", reports[0].OrderedBy)
	}
}

func TestOrderingErrorIsolatedToSeries(t *testing.T) {
	records := []*models.SliceRecord{
		newRecord("s", "broken", 1),
		newRecord("s", "broken", 2),
		withInstance(newRecord("s", "good", 1), 1),
		withInstance(newRecord("s", "good", 2), 2),
	}

	result, _, err := Assemble(records, quiet)
	var oe *models.OrderingError
	if !errors.As(err, &oe) {
		t.Fatalf("Expected *OrderingError, got %v", err)
	}
	if oe.SeriesKey != "broken" || oe.Count != 2 {
		t.Errorf("Unexpected ordering error: %+v", oe)
	}

	if _, ok := result.Get("s", "broken"); ok {
		t.Errorf("Broken series should not be assembled")
	}
	if vol, ok := result.Get("s", "good"); !ok || vol.Size.Depth != 2 {
		t.Errorf("Good series should still be assembled")
	}
}

func TestGroupingByStudyAndSeries(t *testing.T) {
	records := []*models.SliceRecord{
		withInstance(newRecord("s1", "a", 1), 1),
		withInstance(newRecord("s1", "a", 2), 2),
		withInstance(newRecord("s1", "b", 1), 1),
		withInstance(newRecord("s2", "a", 1), 1),
	}

	result, _, err := Assemble(records, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(result) != 2 {
		t.Errorf("Expected 2 studies, got %d", len(result))
	}
	if len(result["s1"]) != 2 {
		t.Errorf("Expected 2 series in s1, got %d", len(result["s1"]))
	}
	if len(result.Volumes()) != 3 {
		t.Errorf("Expected 3 volumes, got %d", len(result.Volumes()))
	}
}

func TestMultiFrameRecord(t *testing.T) {
	rec := newRecord("s", "a", 0)
	rec.Frames = 3
	rec.Pixels = []float64{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2}

	result, _, err := Assemble([]*models.SliceRecord{rec}, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	vol, _ := result.Get("s", "a")
	if vol.Size.Depth != 3 {
		t.Errorf("Expected depth 3 from a 3-frame file, got %d", vol.Size.Depth)
	}
}

func TestGeometryFromFirstSorted(t *testing.T) {
	a := withLocation(newRecord("s", "a", 1), 10)
	a.Origin = models.Vec3{0, 0, 10}
	b := withLocation(newRecord("s", "a", 0), -5)
	b.Origin = models.Vec3{0, 0, -5}

	result, _, err := Assemble([]*models.SliceRecord{a, b}, quiet)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	vol, _ := result.Get("s", "a")
	if vol.Origin != b.Origin {
		t.Errorf("Expected origin of lowest slice %v, got %v", b.Origin, vol.Origin)
	}
	if vol.Files[0] != b.Path {
		t.Errorf("Expected %s first, got %s", b.Path, vol.Files[0])
	}
}

func TestSummarize(t *testing.T) {
	vol := &models.Volume{Data: []float64{1, 2, 3, 4, math.NaN()}}
	s := Summarize(vol)

	if s.Min != 1 || s.Max != 4 {
		t.Errorf("Expected range [1, 4], got [%f, %f]", s.Min, s.Max)
	}
	if s.Mean != 2.5 {
		t.Errorf("Expected mean 2.5, got %f", s.Mean)
	}
	if s.Voxels != 4 {
		t.Errorf("Expected 4 finite voxels, got %d", s.Voxels)
	}
	if math.Abs(s.StdDev-math.Sqrt(5.0/3.0)) > 1e-12 {
		t.Errorf("Expected sample std dev %f, got %f", math.Sqrt(5.0/3.0), s.StdDev)
	}
}

func TestLoadDirectoryCollectsParseErrors(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("img%d.dcm", i))
		if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
	}

	result, parseErrs, err := LoadDirectory(context.Background(), dir, quiet, WithWorkers(2))
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	if len(parseErrs) != 3 {
		t.Errorf("Expected 3 parse errors, got %d", len(parseErrs))
	}
	if len(result) != 0 {
		t.Errorf("Expected no volumes, got %d studies", len(result))
	}
}

func TestLoadDirectoryCancelled(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.dcm"), []byte("garbage"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := LoadDirectory(ctx, dir, quiet)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestLoadDirectoryMissing(t *testing.T) {
	_, _, err := LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"), quiet)
	if err == nil {
		t.Error("Expected error for missing path")
	}
}
