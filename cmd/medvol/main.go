package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/disintegration/imaging"

	"medvol/internal/models"
	"medvol/pkg/assembly"
	"medvol/pkg/colormap"
	"medvol/pkg/config"
	"medvol/pkg/fusion"
	"medvol/pkg/inference"
	"medvol/pkg/label"
	"medvol/pkg/metrics"
	"medvol/pkg/nifti"
	"medvol/pkg/normalize"
	"medvol/pkg/resample"
	"medvol/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "DICOM directory, any file of a DICOM series, or a .nii/.nii.gz file")
	secondaryPath := flag.String("secondary", "", "Separate PET input to fuse with the CT found in -input")
	modality := flag.String("modality", "", "Modality of a NIfTI -input, e.g. CT or PT (default OT; DICOM carries its own)")
	secondaryModality := flag.String("secondary-modality", "", "Modality of a NIfTI -secondary, e.g. PT (default OT)")
	configPath := flag.String("config", "medvol.yaml", "Path to the YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	fuse := flag.Bool("fuse", false, "Fuse the first CT and PT volumes and export the overlay")
	viewName := flag.String("view", "t", "Plane to export: s (sagittal), c (coronal) or t (transverse)")
	index := flag.Int("index", 0, "1-based plane index to export (0 selects the middle plane)")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save every plane of each volume along all axes")
	slicesDir := flag.String("slices-dir", "", "Directory to save extracted planes (overrides the config)")
	labelsPath := flag.String("labels", "", "NIfTI annotation mask to report bounding boxes from")
	numCores := flag.Int("cores", 0, "Number of files parsed concurrently (default: config, then all CPUs)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *slicesDir != "" {
		cfg.Output.SlicesDir = *slicesDir
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	setupLogging(cfg)

	view, err := models.ParseView(*viewName)
	if err != nil {
		log.WithError(err).Fatal("invalid view")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("MEDVOL: VOLUME ASSEMBLY, PET QUANTIFICATION AND PET/CT FUSION")
	fmt.Println("================================")

	startTime := time.Now()
	result, err := load(ctx, *inputPath, models.ParseModality(*modality), cfg)
	if err != nil {
		log.WithError(err).Fatal("loading failed")
	}
	fmt.Printf("\nLoaded %d volume(s) in %.2f seconds\n\n", len(result.Volumes()), time.Since(startTime).Seconds())
	printListing(result)

	if *labelsPath != "" {
		if err := reportLabels(ctx, *labelsPath, result, cfg); err != nil {
			log.WithError(err).Error("label report failed")
		}
	}

	if *fuse {
		secondary := result
		if *secondaryPath != "" {
			secondary, err = load(ctx, *secondaryPath, models.ParseModality(*secondaryModality), cfg)
			if err != nil {
				log.WithError(err).Fatal("loading secondary failed")
			}
		}
		if err := fuseAndExport(result, secondary, cfg, view, *index); err != nil {
			log.WithError(err).Fatal("fusion failed")
		}
	}

	if *extractSlices {
		fmt.Println("\nExtracting planes along all axes...")
		for study, series := range result {
			for key, vol := range series {
				if err := extract(vol, filepath.Join(cfg.Output.SlicesDir, study, key), cfg); err != nil {
					log.WithError(err).WithField("series", key).Warn("failed to save planes")
				}
			}
		}
		fmt.Println("Plane extraction completed!")
	}
}

func setupLogging(cfg *config.Config) {
	switch cfg.Output.LogFormat {
	case "json":
		log.SetHandler(jsonhandler.New(os.Stderr))
	case "text":
		log.SetHandler(text.New(os.Stderr))
	default:
		log.SetHandler(cli.New(os.Stderr))
	}
	if cfg.Output.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// load reads a NIfTI file, tagged with modality, or a DICOM series. Series
// that could not be ordered are reported and skipped as long as anything else
// was assembled.
func load(ctx context.Context, path string, modality models.Modality, cfg *config.Config) (assembly.Result, error) {
	if nifti.IsNIfTI(path) {
		return nifti.LoadAsResult(path, nifti.WithLogger(log.Log), nifti.WithModality(modality))
	}

	workers := cfg.Processing.NumCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	result, parseErrs, err := assembly.LoadDirectory(ctx, path,
		assembly.WithLogger(log.Log),
		assembly.WithWorkers(workers),
	)
	for _, pe := range parseErrs {
		log.WithField("file", pe.Path).Warn(pe.Error())
	}

	var seriesErrs assembly.SeriesErrors
	if errors.As(err, &seriesErrs) && len(result.Volumes()) > 0 {
		fmt.Printf("Warning: %d series could not be assembled\n", len(seriesErrs))
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result.Volumes()) == 0 {
		return nil, fmt.Errorf("no volumes assembled from %s", path)
	}
	return result, nil
}

func printListing(result assembly.Result) {
	for _, study := range sortedKeys(result) {
		fmt.Printf("Study %s\n", study)
		for _, series := range sortedKeys(result[study]) {
			vol := result[study][series]
			fmt.Printf("  Series %s [%s] %s, spacing %.3gx%.3gx%.3g mm, %d file(s)\n",
				series, vol.Modality, vol.Size, vol.Spacing[0], vol.Spacing[1], vol.Spacing[2], len(vol.Files))
			if vol.Description != "" {
				fmt.Printf("    %s\n", vol.Description)
			}
			fmt.Printf("    %s\n", assembly.Summarize(vol))
		}
	}
}

func findModality(result assembly.Result, m models.Modality) *models.Volume {
	for _, vol := range result.Volumes() {
		if vol.Modality == m {
			return vol
		}
	}
	return nil
}

func fuseAndExport(primaryResult, secondaryResult assembly.Result, cfg *config.Config, view models.View, index int) error {
	ct := findModality(primaryResult, models.CT)
	pt := findModality(secondaryResult, models.PT)
	if ct == nil || pt == nil {
		return fmt.Errorf("fusion needs a CT and a PT volume (found CT: %t, PT: %t)", ct != nil, pt != nil)
	}

	sampler, err := cfg.Sampler()
	if err != nil {
		return err
	}

	fmt.Printf("\nResampling PET %s onto CT %s...\n", pt.Size, ct.Size)
	fused, err := fusion.Fuse(ct, pt,
		resample.WithSampler(sampler),
		resample.WithWorkers(cfg.Processing.ResampleWorkers),
		resample.WithLogger(log.Log),
		resample.WithProgress(func(completed, total int, _ string) {
			if completed == total || completed%10 == 0 {
				fmt.Printf("\r  %d/%d slices", completed, total)
			}
		}),
	)
	if err != nil {
		return err
	}
	fmt.Println()

	if fused.SecondaryChannels == 1 && ct.Channels == 1 {
		if al, err := metrics.Align(ct.Data, fused.Secondary, metrics.DefaultBins); err == nil {
			fmt.Printf("PET/CT alignment: %s\n", al)
		}
	}

	ctView, err := viewerFor(fused.Primary, cfg, cfg.CTWindow(), cfg.Display.CTColormap)
	if err != nil {
		return err
	}
	ptView, err := viewerFor(fused.SecondaryVolume(), cfg, cfg.PTWindow(), cfg.Display.PTColormap)
	if err != nil {
		return err
	}

	if index <= 0 {
		index = (visualization.Extent(ct.Size, view) + 1) / 2
	}
	a := ctView.Plane(view, index)
	b := ptView.Plane(view, index)

	ctMap, _ := colormap.ByName(cfg.Display.CTColormap)
	ptMap, _ := colormap.ByName(cfg.Display.PTColormap)
	img, err := fusion.Blend(a.Pix, b.Pix, a.Width, a.Height, ctMap, ptMap, cfg.Display.FusionAlpha)
	if err != nil {
		return err
	}

	aspect := ctView.AspectRatio(view)
	out := imaging.Resize(img, a.Width, int(float64(a.Height)*aspect+0.5), imaging.Linear)

	if err := os.MkdirAll(cfg.Output.SlicesDir, 0755); err != nil {
		return err
	}
	filename := filepath.Join(cfg.Output.SlicesDir, fmt.Sprintf("fused_%s_%03d.png", string(view), a.Index))
	if err := imaging.Save(out, filename); err != nil {
		return err
	}
	fmt.Printf("Fused %s plane %d saved to: %s (aspect %.3g)\n", view, a.Index, filename, aspect)
	return nil
}

func viewerFor(vol *models.Volume, cfg *config.Config, w normalize.Window, cmapName string) (*visualization.Viewer, error) {
	opts := []visualization.Option{
		visualization.WithWindow(w),
		visualization.WithCacheSize(cfg.Display.CacheSize),
		visualization.WithDepthFlip(cfg.Display.FlipDepth),
		visualization.WithLogger(log.Log),
	}
	if cmapName != "" {
		m, err := colormap.ByName(cmapName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, visualization.WithColormap(m))
	}
	return visualization.NewViewer(vol, opts...)
}

// extract saves every plane of vol along all three views under dir
func extract(vol *models.Volume, dir string, cfg *config.Config) error {
	window, cmapName := normalize.Auto(), ""
	switch vol.Modality {
	case models.CT:
		window, cmapName = cfg.CTWindow(), cfg.Display.CTColormap
	case models.PT:
		window, cmapName = cfg.PTWindow(), cfg.Display.PTColormap
	}

	viewer, err := viewerFor(vol, cfg, window, cmapName)
	if err != nil {
		return err
	}

	for _, view := range models.Views {
		viewDir := filepath.Join(dir, view.String())
		fmt.Printf("Saving %s planes to: %s\n", view, viewDir)
		if err := viewer.SaveSliceSequence(view, viewDir); err != nil {
			return err
		}
	}
	return nil
}

func reportLabels(ctx context.Context, path string, result assembly.Result, cfg *config.Config) error {
	mask, err := nifti.Load(path, nifti.WithLogger(log.Log))
	if err != nil {
		return err
	}

	target := mask
	for _, vol := range result.Volumes() {
		if vol.Size == mask.Size {
			target = vol
			break
		}
	}

	r := <-inference.Run(ctx, &inference.MaskDetector{Mask: mask, Names: cfg.Labels.Names}, target, inference.WithLogger(log.Log))
	if r.Err != nil {
		return r.Err
	}

	boxes := boxesOf(r.Detections)
	classes := label.Classes(boxes)
	colors := colormap.LabelColors(len(classes), cfg.Labels.ColorSeed)
	classIndex := make(map[int]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	fmt.Printf("\n%d labelled region(s) in %s\n", len(r.Detections), path)
	for _, d := range r.Detections {
		c := colors[classIndex[d.Box.Class]]
		fmt.Printf("  %-12s #%02x%02x%02x %s, centroid (%.1f, %.1f, %.1f) mm\n",
			d.Label, c.R, c.G, c.B, d.Box, d.Box.Centroid[0], d.Box.Centroid[1], d.Box.Centroid[2])
	}

	s := target.Size
	centre := target.Physical(float64(s.Width-1)/2, float64(s.Height-1)/2, float64(s.Depth-1)/2)
	if b, dist, ok := label.NewLocator(boxes).Nearest(centre); ok {
		fmt.Printf("Region nearest the volume centre: %s (%.1f mm away)\n", b, dist)
	}
	return nil
}

func boxesOf(dets []inference.Detection) []label.Box {
	boxes := make([]label.Box, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
	}
	return boxes
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
