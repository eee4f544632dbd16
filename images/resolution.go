package images

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ResolutionAlias is a short name for a camera resolution, e.g. "1080p".
type ResolutionAlias string

// Common stream resolutions.
const (
	Resolution360p  ResolutionAlias = "360p"
	Resolution480p  ResolutionAlias = "480p"
	Resolution540p  ResolutionAlias = "540p"
	Resolution720p  ResolutionAlias = "720p"
	Resolution1080p ResolutionAlias = "1080p"
	Resolution1440p ResolutionAlias = "1440p"
	Resolution4K    ResolutionAlias = "4k"
)

// ErrUnknownResolution is returned for aliases without a preset.
var ErrUnknownResolution = errors.New("unknown resolution")

// Resolution is the pixel size of a stream.
type Resolution struct {
	Alias  ResolutionAlias
	Width  int
	Height int
}

var resolutions = map[ResolutionAlias]Resolution{
	Resolution360p:  {Resolution360p, 640, 360},
	Resolution480p:  {Resolution480p, 854, 480},
	Resolution540p:  {Resolution540p, 960, 540},
	Resolution720p:  {Resolution720p, 1280, 720},
	Resolution1080p: {Resolution1080p, 1920, 1080},
	Resolution1440p: {Resolution1440p, 2560, 1440},
	Resolution4K:    {Resolution4K, 3840, 2160},
}

// LookupResolution returns the preset of alias. Aliases are case insensitive.
func LookupResolution(alias string) (Resolution, error) {
	r, ok := resolutions[ResolutionAlias(strings.ToLower(strings.TrimSpace(alias)))]
	if !ok {
		return Resolution{}, errors.Wrapf(ErrUnknownResolution, "%q", alias)
	}
	return r, nil
}

// Resolutions returns every preset, smallest first.
func Resolutions() []Resolution {
	out := make([]Resolution, 0, len(resolutions))
	for _, r := range resolutions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Width < out[j].Width })
	return out
}

// Size returns the resolution as a point.
func (r Resolution) Size() image.Point {
	return image.Pt(r.Width, r.Height)
}

// MegaPixels returns the pixel count in millions.
func (r Resolution) MegaPixels() float64 {
	return float64(r.Width*r.Height) / 1_000_000
}

func (r Resolution) String() string {
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Alias, r.Width, r.Height, r.MegaPixels())
}
