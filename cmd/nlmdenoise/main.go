// nlmdenoise de-noises a sequence of image files with non-local means.
//
// The frames are the files matching -in, in name order. Each output is written to -out with the same base
// name. With -synthetic, noise is added to the frames before filtering, and -stats reports how close the
// result is to the original.
//
//	nlmdenoise -in 'clip/*.png' -out denoised -hY=3 -tY=2
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	benchmarks "github.com/janpfeifer/go-benchmarks"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans"
	"github.com/gomlx/nlmeans/compute"
)

var (
	flagIn        = flag.String("in", "", "Glob pattern of the input frames, sorted by name. Formats: png, jpeg, gif, tiff, bmp.")
	flagOut       = flag.String("out", "", "Output directory, created if needed.")
	flagFormat    = flag.String("format", "png", "Output format: png or tiff.")
	flagDriver    = flag.String("driver", "", fmt.Sprintf("Compute driver. Defaults to $%s or %q.", compute.DriverEnv, compute.SoftwareDriverName))
	flagDevice    = flag.Int("device", 0, "Device of the driver to use.")
	flagWorkers   = flag.Int("workers", 0, "Number of work groups run in parallel by the software driver. 0 uses all cores.")
	flagSynthetic = flag.Float64("synthetic", 0, "If > 0, standard deviation of the noise added to the luma of the input frames (half of it to chroma).")
	flagStats     = flag.Bool("stats", false, "Print per plane statistics of the correction applied to each frame.")
)

func main() {
	klog.InitFlags(nil)
	options := nlmeans.DefaultOptions()
	options.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if *flagIn == "" || *flagOut == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -in <pattern> -out <dir> [flags]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *flagFormat != "png" && *flagFormat != "tiff" {
		klog.Exitf("unknown output format %q, use png or tiff", *flagFormat)
	}
	options.Driver = *flagDriver
	options.DeviceID = *flagDevice
	if *flagWorkers > 0 {
		options.DriverOptions = compute.Options{compute.OptionWorkers: *flagWorkers}
	}
	if err := run(options); err != nil {
		klog.Fatalf("%+v", err)
	}
}

func run(options nlmeans.Options) error {
	keep := max(options.TY, options.TUV) + 1
	source, err := newFileSource(*flagIn, *flagSynthetic, keep)
	if err != nil {
		return err
	}
	outDir := ReplaceTildeInDir(*flagOut)
	if err = os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "creating output directory %q", outDir)
	}
	d, err := nlmeans.NewDenoiser(source, options)
	if err != nil {
		return err
	}
	defer func() { ReportError(d.Close()) }()
	fmt.Printf("Denoising %d frames with %s\n", source.NumFrames(), d.Options())

	var dst *nlmeans.Frame
	start := time.Now()
	for n := range source.NumFrames() {
		src, err := source.Frame(n)
		if err != nil {
			return err
		}
		if dst == nil {
			dst = nlmeans.NewFrameLike(src)
		}
		frameStart := time.Now()
		if err = d.Denoise(n, dst); err != nil {
			return errors.WithMessagef(err, "denoising %s", source.Name(n))
		}
		elapsed := time.Since(frameStart)
		outPath := filepath.Join(outDir, source.Name(n)+"."+*flagFormat)
		if err = writeFrame(outPath, dst); err != nil {
			return err
		}
		if n == 0 && d.Device() != nil {
			fmt.Printf("\tdevice: %s\n", d.Device())
		}
		fmt.Printf("\t%s -> %s (%s)\n", source.Name(n), outPath, benchmarks.PrettyPrint(elapsed))
		if *flagStats {
			if err = printStats(source, n, src, dst); err != nil {
				return err
			}
		}
	}
	fmt.Printf("Done in %s\n", benchmarks.PrettyPrint(time.Since(start)))
	return nil
}

func printStats(source *fileSource, n int, src, dst *nlmeans.Frame) error {
	var original *nlmeans.Frame
	if *flagSynthetic > 0 {
		var err error
		if original, err = source.Original(n); err != nil {
			return err
		}
	}
	for id := range nlmeans.PlaneID(nlmeans.NumPlanes) {
		diff := nlmeans.Difference(src.Plane(id), dst.Plane(id))
		fmt.Printf("\t\t%s: correction mean=%.3f std=%.3f", id, diff.Mean, diff.StdDev)
		if original != nil {
			fmt.Printf(", rmse to original %.3f -> %.3f",
				nlmeans.RMSE(original.Plane(id), src.Plane(id)), nlmeans.RMSE(original.Plane(id), dst.Plane(id)))
		}
		fmt.Println()
	}
	return nil
}

func writeFrame(outPath string, f *nlmeans.Frame) (err error) {
	var img image.Image
	if img, err = f.Image(); err != nil {
		return err
	}
	file, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", outPath)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing %q", outPath)
		}
	}()
	switch *flagFormat {
	case "png":
		err = png.Encode(file, img)
	case "tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return errors.Errorf("unknown output format %q", *flagFormat)
	}
	return errors.Wrapf(err, "encoding %q", outPath)
}
