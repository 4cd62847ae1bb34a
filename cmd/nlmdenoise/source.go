package main

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"k8s.io/klog/v2"

	"github.com/gomlx/nlmeans"
)

// fileSource is a nlmeans.FrameSource reading the frames from image files, optionally adding synthetic noise.
//
// Decoded frames are kept while they may still be needed as samples: frames more than keep frames before the
// last one requested are dropped.
type fileSource struct {
	paths      []string
	noiseLevel float64
	keep       int

	frames map[int]*nlmeans.Frame
}

// newFileSource lists the files matching pattern, sorted by name.
func newFileSource(pattern string, noiseLevel float64, keep int) (*fileSource, error) {
	paths, err := filepath.Glob(ReplaceTildeInDir(pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid input pattern %q", pattern)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no files match %q", pattern)
	}
	slices.Sort(paths)
	return &fileSource{paths: paths, noiseLevel: noiseLevel, keep: keep, frames: make(map[int]*nlmeans.Frame)}, nil
}

// NumFrames implements nlmeans.FrameSource.
func (s *fileSource) NumFrames() int { return len(s.paths) }

// Frame implements nlmeans.FrameSource.
func (s *fileSource) Frame(n int) (*nlmeans.Frame, error) {
	if n < 0 || n >= len(s.paths) {
		return nil, errors.Errorf("frame %d out of range [0, %d)", n, len(s.paths))
	}
	if f, found := s.frames[n]; found {
		return f, nil
	}
	f, err := readFrame(s.paths[n])
	if err != nil {
		return nil, err
	}
	if s.noiseLevel > 0 {
		nlmeans.AddFrameNoise(f, s.noiseLevel, s.noiseLevel/2, uint32(n+1))
	}
	for cached := range s.frames {
		if cached < n-s.keep || cached > n+s.keep {
			delete(s.frames, cached)
		}
	}
	s.frames[n] = f
	return f, nil
}

// Original returns frame n as read from its file, before the synthetic noise.
func (s *fileSource) Original(n int) (*nlmeans.Frame, error) {
	return readFrame(s.paths[n])
}

// Name returns the base name of the file of frame n, without extension.
func (s *fileSource) Name(n int) string {
	base := path.Base(s.paths[n])
	return strings.TrimSuffix(base, path.Ext(base))
}

func readFrame(filePath string) (*nlmeans.Frame, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", filePath)
	}
	defer func() { ReportError(file.Close()) }()
	img, format, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", filePath)
	}
	klog.V(2).Infof("read %s (%s, %s)", filePath, format, img.Bounds())
	return nlmeans.FromImage(img), nil
}
