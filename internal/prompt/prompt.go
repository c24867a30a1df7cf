package prompt

import (
	"fmt"
	"strings"

	"cinegen/internal/reference"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// styleSuffix is appended to every scene prompt to push the model toward
// film-grade output.
const styleSuffix = "Cinematic depth, atmospheric lighting, professional cinematography, 8k resolution, dramatic composition."

// Build converts one scene line into the prompt submitted to the generation
// API. It is pure: the same line, scene number, and reference set always
// produce the same prompt. Blank lines are filtered out upstream and never
// reach this function.
func Build(sceneNumber int, line string, refs *reference.Set) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene %d: %s. %s", sceneNumber, strings.TrimSpace(line), styleSuffix)

	for _, ref := range refs.Images() {
		fmt.Fprintf(&b, " Use reference image '%s' for %s consistency.",
			strings.TrimSpace(ref.Description), normalizeTag(ref.Tag))
	}
	return b.String()
}

var tagCaser = cases.Lower(language.Und)

// normalizeTag folds free-form tag input ("Character", "LIGHTING") into a
// stable lowercase token so repeated runs build identical prompts.
func normalizeTag(tag string) string {
	return tagCaser.String(strings.TrimSpace(tag))
}
