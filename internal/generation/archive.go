package generation

import (
	"errors"
	"fmt"

	"cinegen/pkg/zip"
)

// ErrEmptyArchive is returned when a run produced no images to package.
var ErrEmptyArchive = errors.New("generation: no succeeded jobs to archive")

// ArchiveName is the download filename for a packaged run.
const ArchiveName = "generated_images.zip"

// Package bundles every succeeded job's image into a single zip, named by
// scene number so entries line up with the original script. Failed jobs are
// omitted rather than written as placeholders, matching the per-image
// download surface which also only offers successes.
func Package(res *Result) ([]byte, error) {
	succeeded := res.Succeeded()
	if len(succeeded) == 0 {
		return nil, ErrEmptyArchive
	}
	assets := make([]zip.Asset, len(succeeded))
	for i, job := range succeeded {
		assets[i] = zip.Asset{
			Filename: SceneFilename(job.SceneNumber),
			MIME:     "image/png",
			Data:     job.Image,
		}
	}
	return zip.ArchiveAssets(assets)
}

// SceneFilename is the stable naming scheme tying an image back to its
// originating script line.
func SceneFilename(sceneNumber int) string {
	return fmt.Sprintf("scene_%d.png", sceneNumber)
}
