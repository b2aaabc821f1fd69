package redact

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/pdfredact/contentstream/editor"
)

// Color is an RGB color with components in [0, 1]. In JSON it is written
// as "#rrggbb".
type Color struct {
	R, G, B float64
}

var (
	Black = Color{}
	White = Color{1, 1, 1}
)

func (c Color) MarshalText() ([]byte, error) {
	to := func(v float64) int { return int(v*255 + 0.5) }
	return []byte(fmt.Sprintf("#%02x%02x%02x", to(c.R), to(c.G), to(c.B))), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(string(b), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return fmt.Errorf("invalid color %q", b)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fmt.Errorf("invalid color %q", b)
	}
	c.R = float64(v>>16&0xff) / 255
	c.G = float64(v>>8&0xff) / 255
	c.B = float64(v&0xff) / 255
	return nil
}

// HorizontalAlign positions the overlay label across the region.
type HorizontalAlign int

const (
	AlignCenter HorizontalAlign = iota
	AlignLeft
	AlignRight
)

func (a HorizontalAlign) MarshalText() ([]byte, error) {
	return []byte([...]string{"center", "left", "right"}[a]), nil
}

func (a *HorizontalAlign) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "center", "centre":
		*a = AlignCenter
	case "left":
		*a = AlignLeft
	case "right":
		*a = AlignRight
	default:
		return fmt.Errorf("unknown horizontal alignment %q", b)
	}
	return nil
}

// VerticalAlign positions the overlay label between the region's edges.
type VerticalAlign int

const (
	AlignMiddle VerticalAlign = iota
	AlignTop
	AlignBottom
)

func (a VerticalAlign) MarshalText() ([]byte, error) {
	return []byte([...]string{"middle", "top", "bottom"}[a]), nil
}

func (a *VerticalAlign) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "middle", "center", "centre":
		*a = AlignMiddle
	case "top":
		*a = AlignTop
	case "bottom":
		*a = AlignBottom
	default:
		return fmt.Errorf("unknown vertical alignment %q", b)
	}
	return nil
}

// AppearanceStyle controls what is drawn over a redacted region.
type AppearanceStyle struct {
	// DrawOverlayBox enables the overlay label.
	DrawOverlayBox  bool            `json:"drawOverlayBox"`
	TextColor       Color           `json:"textColor"`
	BoxFillColor    Color           `json:"boxFillColor"`
	BorderColor     Color           `json:"borderColor"`
	BorderWidth     float64         `json:"borderWidth"`
	HorizontalAlign HorizontalAlign `json:"horizontalAlign"`
	VerticalAlign   VerticalAlign   `json:"verticalAlign"`
	// Font is a standard 14 font name.
	Font        string  `json:"font"`
	MinFontSize float64 `json:"minFontSize"`
	MaxFontSize float64 `json:"maxFontSize"`
	// Padding is kept free between the label and the region's edges.
	Padding float64 `json:"padding"`
	// ImagePolicy is "remove" (default) or "clip".
	ImagePolicy ImagePolicy `json:"imagePolicy"`
}

// ImagePolicy wraps editor.ImagePolicy with a text form.
type ImagePolicy editor.ImagePolicy

func (p ImagePolicy) MarshalText() ([]byte, error) {
	if editor.ImagePolicy(p) == editor.ImageClip {
		return []byte("clip"), nil
	}
	return []byte("remove"), nil
}

func (p *ImagePolicy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "remove", "":
		*p = ImagePolicy(editor.ImageRemove)
	case "clip":
		*p = ImagePolicy(editor.ImageClip)
	default:
		return fmt.Errorf("unknown image policy %q", b)
	}
	return nil
}

// DefaultStyle draws black boxes with a centered white label.
func DefaultStyle() AppearanceStyle {
	return AppearanceStyle{
		DrawOverlayBox: true,
		TextColor:      White,
		BoxFillColor:   Black,
		BorderColor:    Black,
		Font:           "Helvetica",
		MinFontSize:    4,
		MaxFontSize:    12,
		Padding:        1,
	}
}

// ParseStyle decodes JSON over DefaultStyle, so omitted fields keep their
// defaults.
func ParseStyle(data []byte) (AppearanceStyle, error) {
	s := DefaultStyle()
	if err := json.Unmarshal(data, &s); err != nil {
		return AppearanceStyle{}, fmt.Errorf("parse style: %w", err)
	}
	if err := s.Validate(); err != nil {
		return AppearanceStyle{}, err
	}
	return s, nil
}

// Validate checks the numeric bounds of the style.
func (s AppearanceStyle) Validate() error {
	switch {
	case s.BorderWidth < 0:
		return fmt.Errorf("style: negative border width %v", s.BorderWidth)
	case s.MinFontSize <= 0 || s.MaxFontSize < s.MinFontSize:
		return fmt.Errorf("style: font size range %v..%v", s.MinFontSize, s.MaxFontSize)
	case s.Padding < 0:
		return fmt.Errorf("style: negative padding %v", s.Padding)
	}
	for _, c := range []Color{s.TextColor, s.BoxFillColor, s.BorderColor} {
		for _, v := range []float64{c.R, c.G, c.B} {
			if v < 0 || v > 1 {
				return fmt.Errorf("style: color component %v out of range", v)
			}
		}
	}
	return nil
}
