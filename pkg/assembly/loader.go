package assembly

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"medvol/internal/models"
	"medvol/pkg/dicomslice"
)

// LoadDirectory discovers the DICOM files for path, parses them in parallel
// and assembles the result. path may be a directory or any one file of the
// series, in which case its siblings with the same extension are loaded.
//
// Files that fail to parse are returned in the ParseErrors batch and do not
// abort the rest. The returned error is non-nil only for discovery failures,
// cancellation or series that could not be ordered.
func LoadDirectory(ctx context.Context, path string, opts ...Option) (Result, models.ParseErrors, error) {
	files, err := discover(path)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, errors.Errorf("no files found for %s", path)
	}
	return LoadFiles(ctx, files, opts...)
}

// LoadFiles parses and assembles an explicit file list.
func LoadFiles(ctx context.Context, files []string, opts ...Option) (Result, models.ParseErrors, error) {
	o := newOptions(opts)

	records, parseErrs, err := parseAll(ctx, files, o)
	if err != nil {
		return nil, parseErrs, err
	}

	if len(parseErrs) > 0 {
		o.logger.WithField("failed", len(parseErrs)).Warn("some files could not be parsed")
	}
	o.logger.WithField("files", len(records)).Info("parsed slices")

	result, _, err := Assemble(records, opts...)
	return result, parseErrs, err
}

func discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return dicomslice.Siblings(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", path)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// parseAll fans the file list out over the configured number of workers.
// Results keep the input order so assembly is deterministic.
func parseAll(ctx context.Context, files []string, o *options) ([]*models.SliceRecord, models.ParseErrors, error) {
	type parseResult struct {
		idx int
		rec *models.SliceRecord
		err error
	}

	jobs := make(chan int)
	resultChan := make(chan parseResult)

	numWorkers := o.workers
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rec, err := dicomslice.Parse(files[idx], dicomslice.WithLogger(o.logger))
				resultChan <- parseResult{idx: idx, rec: rec, err: err}
			}
		}()
	}

	// Feed jobs until done or cancelled
	go func() {
		defer close(jobs)
		for i := range files {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	records := make([]*models.SliceRecord, len(files))
	errs := make([]error, len(files))
	for res := range resultChan {
		records[res.idx] = res.rec
		errs[res.idx] = res.err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var parsed []*models.SliceRecord
	var parseErrs models.ParseErrors
	for i, err := range errs {
		if err != nil {
			var pe *models.ParseError
			if !errors.As(err, &pe) {
				pe = &models.ParseError{Path: files[i], Reason: "unusable slice", Err: err}
			}
			parseErrs = append(parseErrs, pe)
			continue
		}
		parsed = append(parsed, records[i])
	}
	return parsed, parseErrs, nil
}
