package script

import (
	"fmt"
	"strings"
)

// MaxImages caps how many generation jobs a single run may submit.
const MaxImages = 252

// Line is one non-blank scene from the user's script. Index is the 0-based
// position of the line in the original input, preserved so downstream naming
// and ordering survive blank-line removal.
type Line struct {
	Index int
	Text  string
}

// SceneNumber is the human-facing 1-based number used in prompts and
// generated filenames.
func (l Line) SceneNumber() int {
	return l.Index + 1
}

// Parse splits a script into scene lines. Blank lines are dropped but the
// surviving lines keep their original indices.
func Parse(input string) []Line {
	raw := strings.Split(input, "\n")
	lines := make([]Line, 0, len(raw))
	for i, text := range raw {
		text = strings.TrimSpace(strings.TrimSuffix(text, "\r"))
		if text == "" {
			continue
		}
		lines = append(lines, Line{Index: i, Text: text})
	}
	return lines
}

// Plan selects the lines a run will actually submit. The run is truncated to
// the available non-blank lines when imageCount exceeds them; the original UI
// never offered more images than lines, so requesting extra images does not
// cycle the script.
func Plan(lines []Line, imageCount int) ([]Line, error) {
	if imageCount < 1 || imageCount > MaxImages {
		return nil, fmt.Errorf("script: image count %d out of range 1..%d", imageCount, MaxImages)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("script: no scenes to generate")
	}
	if imageCount > len(lines) {
		imageCount = len(lines)
	}
	planned := make([]Line, imageCount)
	copy(planned, lines[:imageCount])
	return planned, nil
}
