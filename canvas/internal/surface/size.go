package surface

import (
	"errors"
	"fmt"
	"strings"
)

// Preset names a canvas size.
type Preset string

const (
	PresetTV1080p Preset = "tv_1080p"
	PresetTV4K    Preset = "tv_4k"
	PresetPhone   Preset = "phone"
	PresetTablet  Preset = "tablet"
	PresetSquare  Preset = "square"
	PresetAuto    Preset = "auto"
	PresetCustom  Preset = "custom"
)

// ScaleMode tells the viewer how to fit the canvas into its viewport.
type ScaleMode string

const (
	ScaleFit     ScaleMode = "fit"
	ScaleFill    ScaleMode = "fill"
	ScaleStretch ScaleMode = "stretch"
	ScaleNone    ScaleMode = "none"
)

// ErrInvalidSize is wrapped by every size resolution failure.
var ErrInvalidSize = errors.New("invalid size preset")

var presetDims = map[Preset][2]int{
	PresetTV1080p: {1920, 1080},
	PresetTV4K:    {3840, 2160},
	PresetPhone:   {390, 844},
	PresetTablet:  {1024, 768},
	PresetSquare:  {1080, 1080},
	PresetAuto:    {0, 0},
}

// Size is a resolved canvas size. Width and Height are 0 for auto.
type Size struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Preset    Preset    `json:"preset"`
	ScaleMode ScaleMode `json:"scale_mode"`
}

// SizeSpec is a size request as callers express it.
type SizeSpec struct {
	Preset    string
	Width     int
	Height    int
	ScaleMode string
}

// IsZero reports whether the request carries no size information.
func (s SizeSpec) IsZero() bool {
	return s.Preset == "" && s.Width == 0 && s.Height == 0
}

// PresetSize returns the table size of a named preset. Custom has no table
// entry.
func PresetSize(name string) (Size, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(name)))
	dims, ok := presetDims[p]
	if !ok {
		return Size{}, fmt.Errorf("%w: %q", ErrInvalidSize, name)
	}
	return Size{Width: dims[0], Height: dims[1], Preset: p, ScaleMode: ScaleFit}, nil
}

// ResolveSize turns a request into a Size. An empty request yields def.
// An empty preset with explicit dimensions means custom. Named presets take
// their dimensions from the table and ignore caller dimensions.
func ResolveSize(spec SizeSpec, def Size) (Size, error) {
	mode, err := parseScaleMode(spec.ScaleMode)
	if err != nil {
		return Size{}, err
	}

	var out Size
	switch preset := Preset(strings.ToLower(strings.TrimSpace(spec.Preset))); {
	case spec.IsZero():
		out = def
		if out.ScaleMode == "" {
			out.ScaleMode = ScaleFit
		}
	case preset == PresetCustom || preset == "":
		if spec.Width <= 0 || spec.Height <= 0 {
			return Size{}, fmt.Errorf("%w: custom size needs positive width and height, got %dx%d",
				ErrInvalidSize, spec.Width, spec.Height)
		}
		out = Size{Width: spec.Width, Height: spec.Height, Preset: PresetCustom, ScaleMode: ScaleFit}
	default:
		out, err = PresetSize(spec.Preset)
		if err != nil {
			return Size{}, err
		}
	}
	if mode != "" {
		out.ScaleMode = mode
	}
	return out, nil
}

func parseScaleMode(s string) (ScaleMode, error) {
	switch m := ScaleMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return "", nil
	case ScaleFit, ScaleFill, ScaleStretch, ScaleNone:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown scale mode %q", ErrInvalidSize, s)
	}
}
