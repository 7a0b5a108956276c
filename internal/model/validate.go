package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add records a failure on field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns e when it holds errors, nil otherwise.
func (e *ValidationError) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

var profileID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateProfile checks a GameProfile for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the profile is valid.
func ValidateProfile(g *GameProfile) error {
	var ve ValidationError

	if g.ID == "" {
		ve.Add("id", "is required")
	} else if !profileID.MatchString(g.ID) {
		ve.Add("id", "must contain only letters, digits, '-' and '_', got %q", g.ID)
	}
	if strings.TrimSpace(g.WindowTitle) == "" {
		ve.Add("window_title", "is required")
	}

	d := g.Detection
	if d.Debounce < 0 {
		ve.Add("detection.debounce", "must be >= 0, got %d", d.Debounce)
	}
	switch d.Type {
	case DetectionPixel:
		validateRegions(&ve, d.Regions)
	case DetectionLog:
		validatePatterns(&ve, d)
	case "":
		ve.Add("detection.type", "is required")
	default:
		ve.Add("detection.type", "invalid value %q (want %q or %q)", d.Type, DetectionPixel, DetectionLog)
	}

	for field, res := range map[string]string{"video.resolution": g.Video.Resolution, "video.output": g.Video.Output} {
		if res == "" {
			continue
		}
		if _, _, err := ParseResolution(res); err != nil {
			ve.Add(field, "%v", err)
		}
	}
	if g.Video.FPS < 0 {
		ve.Add("video.fps", "must be >= 0, got %d", g.Video.FPS)
	}

	return ve.Err()
}

func validateRegions(ve *ValidationError, regions []Region) {
	if len(regions) == 0 {
		ve.Add("detection.regions", "at least one region is required for pixel detection")
	}
	for i, r := range regions {
		field := fmt.Sprintf("detection.regions[%d]", i)
		if !r.State.IsValid() {
			ve.Add(field+".state", "invalid value %q", r.State)
		}
		w, h := r.Resolution[0], r.Resolution[1]
		if w <= 0 || h <= 0 {
			ve.Add(field+".resolution", "must be [width, height] with positive values")
		}
		if len(r.Pixels) == 0 {
			ve.Add(field+".pixels", "at least one pixel is required")
		}
		for j, p := range r.Pixels {
			pf := fmt.Sprintf("%s.pixels[%d]", field, j)
			if len(p) != 6 {
				ve.Add(pf, "must be [x, y, r, g, b, tolerance], got %d values", len(p))
				continue
			}
			if p.X() < 0 || p.Y() < 0 || (w > 0 && p.X() >= w) || (h > 0 && p.Y() >= h) {
				ve.Add(pf, "coordinate (%d,%d) outside %dx%d", p.X(), p.Y(), w, h)
			}
			for c := 2; c < 5; c++ {
				if p[c] < 0 || p[c] > 255 {
					ve.Add(pf, "colour channel %d out of range 0-255", p[c])
				}
			}
			if p.Tolerance() < 0 || p.Tolerance() > 255 {
				ve.Add(pf, "tolerance %d out of range 0-255", p.Tolerance())
			}
		}
	}
}

func validatePatterns(ve *ValidationError, d Detection) {
	if strings.TrimSpace(d.Path) == "" {
		ve.Add("detection.path", "is required for log detection")
	}
	switch d.Format {
	case "", LogFormatLines, LogFormatJULXML:
	default:
		ve.Add("detection.format", "invalid value %q", d.Format)
	}
	if len(d.Patterns) == 0 {
		ve.Add("detection.patterns", "at least one pattern is required for log detection")
	}
	for i, p := range d.Patterns {
		field := fmt.Sprintf("detection.patterns[%d]", i)
		if !p.State.IsValid() {
			ve.Add(field+".state", "invalid value %q", p.State)
		}
		if p.Match == "" && p.Class == "" && p.Method == "" {
			ve.Add(field, "one of match, class or method is required")
		}
		if p.Match != "" {
			if _, err := regexp.Compile(p.Match); err != nil {
				ve.Add(field+".match", "invalid regular expression: %v", err)
			}
		}
		if (p.Class != "" || p.Method != "") && d.Format != LogFormatJULXML {
			ve.Add(field, "class and method require format %q", LogFormatJULXML)
		}
	}
}
