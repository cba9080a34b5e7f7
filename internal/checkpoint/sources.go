package checkpoint

import (
	"fmt"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/template"
)

// Attributes read from rendered markup.
const (
	AttrID    = "data-checkpoint"
	AttrLabel = "data-checkpoint-label"
)

var labelPolicy = bluemonday.StrictPolicy()

// FromMarkers converts template markers into marker checkpoints. Frames are
// clamped into [0, totalFrames-1].
func FromMarkers(markers []template.Marker, fps float64, totalFrames int) ([]Checkpoint, error) {
	vec := &errors.ValidationErrorCollection{}
	out := make([]Checkpoint, 0, len(markers))

	for i, m := range markers {
		field := fmt.Sprintf("markers[%d]", i)
		if strings.TrimSpace(m.ID) == "" {
			vec.AddField(field+".id", m.ID, "marker id must not be empty")
			continue
		}

		var frame int
		switch {
		case m.Frame != nil:
			frame = *m.Frame
		case m.Time != nil:
			frame = int(math.Round(*m.Time * fps))
		default:
			vec.AddField(field, m.ID, "marker needs a frame or a time")
			continue
		}
		frame = template.ClampFrame(frame, totalFrames)

		out = append(out, Checkpoint{
			ID:     m.ID,
			Frame:  frame,
			Time:   frameTime(frame, fps),
			Label:  labelFor(m.ID, m.Label),
			Source: Source{Type: SourceMarker},
		})
	}

	if vec.HasErrors() {
		return nil, vec.ToFramecastError(errors.ErrCodeTemplateConfig)
	}
	return out, nil
}

// ScanMarkup finds runtime checkpoints in one frame's markup. Every element
// carrying a non-empty data-checkpoint attribute yields one checkpoint at
// frame; repeated ids keep the first occurrence.
func ScanMarkup(markup string, frame int, fps float64) []Checkpoint {
	var out []Checkpoint
	seen := make(map[string]bool)

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		var id, label string
		_, hasAttr := z.TagName()
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			switch string(key) {
			case AttrID:
				id = strings.TrimSpace(string(val))
			case AttrLabel:
				label = string(val)
			}
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		out = append(out, Checkpoint{
			ID:     id,
			Frame:  frame,
			Time:   frameTime(frame, fps),
			Label:  labelFor(id, label),
			Source: Source{Type: SourceRuntime},
		})
	}
}

// labelFor returns the sanitized label, or one derived from the id.
func labelFor(id, label string) string {
	label = strings.TrimSpace(html.UnescapeString(labelPolicy.Sanitize(label)))
	if label != "" {
		return label
	}
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	// Casers are stateful; one per call.
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func frameTime(frame int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(frame) / fps
}
