package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"dicomto3d/pkg/affine"
	"dicomto3d/pkg/config"
	"dicomto3d/pkg/dicomio"
	"dicomto3d/pkg/reconstruction"
	"dicomto3d/pkg/visualization"
)

var log = config.NamedLogger("dicomto3d")

func main() {
	inputDir := flag.String("input", "", "Directory containing the DICOM series")
	configPath := flag.String("config", "", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	source := flag.String("source", "", "Volume source: pc, img, vox or iv (overrides config)")
	numCores := flag.Int("cores", 0, "Number of CPU cores for point conversion (overrides config)")
	smooth := flag.Bool("smooth", false, "Apply Gaussian smoothing to the grid (overrides config)")
	previews := flag.Bool("previews", false, "Save preview images of the final grid (overrides config)")
	previewsDir := flag.String("previews-dir", "", "Directory for preview images (overrides config)")
	flag.Parse()

	if *initConfig {
		if *configPath == "" {
			log.Fatal("-init-config needs -config")
		}
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Infof("Default configuration written to %s", *configPath)
		return
	}

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// explicitly set flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Processing.Source = *source
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "smooth":
			cfg.Processing.Smooth = *smooth
		case "previews":
			cfg.Output.SavePreviews = *previews
		case "previews-dir":
			cfg.Output.PreviewDir = *previewsDir
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	params, err := reconstruction.ParamsFromConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	slices, err := dicomio.LoadDir(*inputDir)
	if err != nil {
		log.Fatalf("Failed to load slices: %v", err)
	}

	log.Infof("Reconstructing %d slices from %s with source %s on %d cores",
		len(slices), *inputDir, params.Source, params.NumCores)
	startTime := time.Now()
	res, err := reconstruction.NewReconstructor(params).Process(slices)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}

	log.Infof("Processed in %.2f seconds", time.Since(startTime).Seconds())
	log.Infof("Foreground points: %d", len(res.Points))
	log.Infof("Voxel size (row, col, thickness): %v", res.Voxel.Size())
	log.Infof("HU mean %.1f, std %.1f, range [%g, %g]",
		res.Intensity.Mean, res.Intensity.StdDev, res.Intensity.Min, res.Intensity.Max)
	if res.Grid == nil {
		return
	}
	log.Infof("Grid origin %v, spacing %v, dims %v", res.Grid.Origin, res.Grid.Spacing, res.Grid.Dims)

	if cfg.Output.SavePreviews {
		viewer := visualization.NewViewer(res.Grid)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(cfg.Output.PreviewDir, axis)
			log.Infof("Saving %s-axis previews to: %s", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Warnf("Failed to save %s-axis previews: %v", axis, err)
			}
		}
		saveROIPreviews(viewer, res, filepath.Join(cfg.Output.PreviewDir, "roi"))
	}
}

// saveROIPreviews writes the z planes of the grid cropped to the foreground
func saveROIPreviews(viewer *visualization.Viewer, res *reconstruction.Result, dir string) {
	box, ok := affine.FindBoundary(res.Points)
	if !ok {
		return
	}
	region, err := viewer.RegionAround(box)
	if err != nil {
		log.Warnf("Failed to crop foreground region: %v", err)
		return
	}
	log.Infof("Saving foreground region %v to: %s", region.Dims, dir)
	if err := visualization.NewViewer(region).SaveSliceSequence("z", dir); err != nil {
		log.Warnf("Failed to save foreground previews: %v", err)
	}
}
