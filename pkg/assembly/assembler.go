// Package assembly groups parsed slices into series and stacks each series
// into a models.Volume.
//
// The assembly process consists of several steps:
// 1. Grouping records by study key, then by series key (UID + rows + columns)
// 2. Promoting single-record series directly to a volume
// 3. Ordering by slice location, falling back to instance number
// 4. Stacking the ordered planes along the depth axis
package assembly

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/apex/log"

	"medvol/internal/models"
)

// Ordering keys reported for each assembled series
const (
	OrderSingle         = "single"
	OrderSliceLocation  = "sliceLocation"
	OrderInstanceNumber = "instanceNumber"
)

// Result maps study key -> series key -> volume.
type Result map[string]map[string]*models.Volume

// Volumes returns every volume in study/series key order.
func (r Result) Volumes() []*models.Volume {
	var out []*models.Volume
	for _, study := range sortedKeys(r) {
		for _, series := range sortedKeys(r[study]) {
			out = append(out, r[study][series])
		}
	}
	return out
}

// Get returns the volume for a study/series pair.
func (r Result) Get(studyKey, seriesKey string) (*models.Volume, bool) {
	s, ok := r[studyKey]
	if !ok {
		return nil, false
	}
	v, ok := s[seriesKey]
	return v, ok
}

// Report describes how one series was assembled.
type Report struct {
	StudyKey  string
	SeriesKey string

	// Slices is the number of records stacked into the volume
	Slices int

	// Skipped counts records dropped for lacking the chosen ordering key
	// or for a channel count that differs from the first ordered record
	Skipped int

	// OrderedBy is one of OrderSingle, OrderSliceLocation, OrderInstanceNumber
	OrderedBy string
}

// SeriesErrors collects per-series failures. Each element is usually a
// *models.OrderingError; other series are still assembled.
type SeriesErrors []error

func (e SeriesErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d series failed: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e SeriesErrors) Unwrap() []error {
	return e
}

// Option configures the assembler.
type Option func(*options)

type options struct {
	logger  log.Interface
	workers int
}

// WithLogger sets the logger for diagnostics.
func WithLogger(l log.Interface) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWorkers sets how many files are parsed concurrently by LoadDirectory.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: log.Log, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Assemble groups records into volumes. A series whose records carry no
// ordering key fails on its own; the remaining series are still returned
// together with a SeriesErrors.
func Assemble(records []*models.SliceRecord, opts ...Option) (Result, []Report, error) {
	o := newOptions(opts)

	// Group by study, then series
	groups := make(map[string]map[string][]*models.SliceRecord)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		series, ok := groups[rec.StudyKey]
		if !ok {
			series = make(map[string][]*models.SliceRecord)
			groups[rec.StudyKey] = series
		}
		series[rec.SeriesKey] = append(series[rec.SeriesKey], rec)
	}

	result := make(Result)
	var reports []Report
	var failed SeriesErrors

	for _, studyKey := range sortedKeys(groups) {
		for _, seriesKey := range sortedKeys(groups[studyKey]) {
			logger := o.logger.WithFields(log.Fields{"study": studyKey, "series": seriesKey})

			vol, rep, err := assembleSeries(studyKey, seriesKey, groups[studyKey][seriesKey])
			if err != nil {
				logger.WithError(err).Error("series not assembled")
				failed = append(failed, err)
				continue
			}

			if rep.Skipped > 0 {
				logger.WithFields(log.Fields{
					"skipped": rep.Skipped,
					"orderBy": rep.OrderedBy,
				}).Warn("slices skipped while ordering series")
			}
			logger.WithFields(log.Fields{
				"slices": rep.Slices,
				"size":   vol.Size.String(),
				"order":  rep.OrderedBy,
			}).Debug("series assembled")

			if _, ok := result[studyKey]; !ok {
				result[studyKey] = make(map[string]*models.Volume)
			}
			result[studyKey][seriesKey] = vol
			reports = append(reports, rep)
		}
	}

	if len(failed) > 0 {
		return result, reports, failed
	}
	return result, reports, nil
}

// assembleSeries orders and stacks the records of a single series.
func assembleSeries(studyKey, seriesKey string, records []*models.SliceRecord) (*models.Volume, Report, error) {
	rep := Report{StudyKey: studyKey, SeriesKey: seriesKey}

	if len(records) == 1 {
		rep.Slices = 1
		rep.OrderedBy = OrderSingle
		vol, err := stack(records)
		return vol, rep, err
	}

	ordered, by, skipped := order(records)
	if ordered == nil {
		return nil, rep, &models.OrderingError{StudyKey: studyKey, SeriesKey: seriesKey, Count: len(records)}
	}

	// Channel counts must agree with the first record before stacking; the
	// plane size is already part of the series key
	first := ordered[0]
	kept := ordered[:0:0]
	for _, rec := range ordered {
		if rec.Channels != first.Channels {
			skipped++
			continue
		}
		kept = append(kept, rec)
	}

	rep.Slices = len(kept)
	rep.Skipped = skipped
	rep.OrderedBy = by

	vol, err := stack(kept)
	return vol, rep, err
}

// order sorts records by slice location when any record has one, otherwise
// by instance number. It returns nil when neither key is usable.
func order(records []*models.SliceRecord) ([]*models.SliceRecord, string, int) {
	var located []*models.SliceRecord
	for _, rec := range records {
		if rec.SliceLocation.Valid {
			located = append(located, rec)
		}
	}
	if len(located) > 0 {
		sort.SliceStable(located, func(i, j int) bool {
			return located[i].SliceLocation.Float64 < located[j].SliceLocation.Float64
		})
		return located, OrderSliceLocation, len(records) - len(located)
	}

	var numbered []*models.SliceRecord
	for _, rec := range records {
		if rec.InstanceNumber.Valid {
			numbered = append(numbered, rec)
		}
	}
	if len(numbered) > 0 {
		sort.SliceStable(numbered, func(i, j int) bool {
			return numbered[i].InstanceNumber.Int64 < numbered[j].InstanceNumber.Int64
		})
		return numbered, OrderInstanceNumber, len(records) - len(numbered)
	}

	return nil, "", 0
}

// stack concatenates the planes of ordered records into one volume. Geometry,
// modality and channel count come from the first record.
func stack(records []*models.SliceRecord) (*models.Volume, error) {
	first := records[0]

	depth := 0
	for _, rec := range records {
		depth += frames(rec)
	}

	vol := &models.Volume{
		Size: models.Size{
			Width:  first.Shape.Cols,
			Height: first.Shape.Rows,
			Depth:  depth,
		},
		Origin:      first.Origin,
		Spacing:     first.Spacing,
		Direction:   first.Direction,
		Modality:    first.Modality,
		Channels:    first.Channels,
		Description: first.SeriesDescription,
		Data:        make([]float64, 0, depth*first.PlaneLen()),
		Files:       make([]string, 0, len(records)),
	}

	for _, rec := range records {
		n := frames(rec) * rec.PlaneLen()
		if len(rec.Pixels) < n {
			return nil, &models.GeometryMismatchError{Reason: fmt.Sprintf("%s holds %d values, expected %d", rec.Path, len(rec.Pixels), n)}
		}
		vol.Data = append(vol.Data, rec.Pixels[:n]...)
		vol.Files = append(vol.Files, rec.Path)
	}

	if err := vol.Validate(); err != nil {
		return nil, err
	}
	return vol, nil
}

func frames(rec *models.SliceRecord) int {
	if rec.Frames < 1 {
		return 1
	}
	return rec.Frames
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
