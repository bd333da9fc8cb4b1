package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/problemgen"
)

// ErrImageFailed is returned in strict mode when any image of a set could
// not be produced.
var ErrImageFailed = errors.New("image generation failed")

// Mode selects what happens to a set when one of its images fails.
type Mode string

const (
	// ModeDegrade replaces the image with the failure marker and keeps the set.
	ModeDegrade Mode = "degrade"

	// ModeStrict fails the whole set.
	ModeStrict Mode = "strict"
)

// ParseMode accepts "degrade" (or empty) and "strict".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDegrade:
		return ModeDegrade, nil
	case ModeStrict:
		return ModeStrict, nil
	}
	return "", fmt.Errorf("unknown image failure mode %q (want degrade or strict)", s)
}

// DefaultAspectRatio is requested for every stimulus image.
const DefaultAspectRatio = "1:1"

// Stats counts image outcomes for one set.
type Stats struct {
	Generated int
	Failed    int
}

// Filler resolves image stimuli of validated items and writes the images
// under OutDir.
type Filler struct {
	Generator   Generator
	OutDir      string
	Mode        Mode
	AspectRatio string
	Logger      *zap.Logger

	// OnImage, when set, is told the outcome of every image.
	OnImage func(ok bool)
}

// ImagePath is the on-disk location of the image for item q (0-based) of
// set setIndex (0-based).
func ImagePath(outDir string, unit course.Unit, kind problemgen.Kind, setIndex, q int) string {
	name := fmt.Sprintf("%s_%s_u%d_s%d_q%d.jpeg", unit.CourseID, kind, unit.Number(), setIndex+1, q+1)
	return filepath.Join(outDir, "images", unit.CourseID, fmt.Sprintf("unit%d", unit.Number()), name)
}

// Fill generates an image for every item whose stimulus still needs one.
// In degrade mode failures are marked on the item and Fill only returns
// an error when ctx is done. In strict mode the first failure aborts.
func (f *Filler) Fill(ctx context.Context, unit course.Unit, setIndex int, items []problemgen.Item) (Stats, error) {
	var st Stats
	log := f.logger().With(zap.String("course", unit.CourseID), zap.Int("unit", unit.Number()), zap.Int("set", setIndex+1))

	for i, it := range items {
		if !it.Base().Stimulus.NeedsImage() {
			continue
		}

		data, err := f.Generator.Generate(ctx, EnhancePrompt(unit.CourseName, it), f.aspect())
		if err == nil {
			err = f.attach(unit, setIndex, i, it, data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			st.Failed++
			f.report(false)
			log.Warn("image generation failed", zap.Int("item", i+1), zap.Error(err))
			if f.Mode == ModeStrict {
				return st, fmt.Errorf("%w: item %d: %v", ErrImageFailed, i+1, err)
			}
			it.Base().Stimulus.MarkFailed()
			continue
		}
		st.Generated++
		f.report(true)
	}

	if st.Generated+st.Failed > 0 {
		log.Info("images resolved", zap.Int("generated", st.Generated), zap.Int("failed", st.Failed))
	}
	return st, nil
}

// Apply attaches downloaded batch images to the items of one set. Requests
// whose key has no image are treated as failures under the filler's mode.
func (f *Filler) Apply(unit course.Unit, setIndex int, items []problemgen.Item, reqs []ItemRequest, images map[string][]byte) (Stats, error) {
	var st Stats
	for _, r := range reqs {
		if r.ItemIndex < 0 || r.ItemIndex >= len(items) {
			return st, fmt.Errorf("image request %s points at item %d of %d", r.Key, r.ItemIndex, len(items))
		}
		it := items[r.ItemIndex]

		data, ok := images[r.Key]
		var err error
		if ok {
			err = f.attach(unit, setIndex, r.ItemIndex, it, data)
		} else {
			err = fmt.Errorf("no image returned for %s", r.Key)
		}
		if err != nil {
			st.Failed++
			f.report(false)
			f.logger().Warn("batch image missing", zap.String("key", r.Key), zap.Error(err))
			if f.Mode == ModeStrict {
				return st, fmt.Errorf("%w: %v", ErrImageFailed, err)
			}
			it.Base().Stimulus.MarkFailed()
			continue
		}
		st.Generated++
		f.report(true)
	}
	return st, nil
}

func (f *Filler) attach(unit course.Unit, setIndex, q int, it problemgen.Item, data []byte) error {
	path := ImagePath(f.OutDir, unit, it.Kind(), setIndex, q)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	s := &it.Base().Stimulus
	s.Image = &problemgen.Image{
		Path:    path,
		Base64:  base64.StdEncoding.EncodeToString(data),
		AltText: s.ImagePrompt(),
	}
	s.Failed = false
	s.Error = ""
	return nil
}

func (f *Filler) aspect() string {
	if f.AspectRatio == "" {
		return DefaultAspectRatio
	}
	return f.AspectRatio
}

func (f *Filler) report(ok bool) {
	if f.OnImage != nil {
		f.OnImage(ok)
	}
}

func (f *Filler) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}
