package reference

import (
	"errors"
	"fmt"
	"strings"
)

// MaxImages is the upper bound the generation API accepts for style
// conditioning inputs.
const MaxImages = 5

// ErrTooManyImages is returned when a sixth reference image is added.
var ErrTooManyImages = fmt.Errorf("reference: at most %d reference images are allowed", MaxImages)

// Image is a user-uploaded picture that steers generation style. Description
// and Tag feed the prompt builder; Data is forwarded on job submission.
type Image struct {
	Data        []byte
	MIME        string
	Filename    string
	Description string
	Tag         string
}

// Set holds the reference images for one run. The zero value is an empty,
// usable set. A Set belongs to a single run and is discarded afterwards.
type Set struct {
	images []Image
}

// NewSet builds a set from the given images, applying the same validation
// as Add.
func NewSet(images ...Image) (*Set, error) {
	s := &Set{}
	for _, img := range images {
		if err := s.Add(img); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add validates and appends one reference image.
func (s *Set) Add(img Image) error {
	if len(s.images) >= MaxImages {
		return ErrTooManyImages
	}
	if len(img.Data) == 0 {
		return errors.New("reference: image payload is empty")
	}
	if strings.TrimSpace(img.Description) == "" {
		return errors.New("reference: image description is required")
	}
	if strings.TrimSpace(img.Tag) == "" {
		return errors.New("reference: image tag is required")
	}
	if strings.TrimSpace(img.MIME) == "" {
		img.MIME = "image/png"
	}
	s.images = append(s.images, img)
	return nil
}

// Len reports how many reference images the set carries. Safe on a nil set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.images)
}

// Images returns a copy of the underlying slice so callers cannot mutate the
// set after submission.
func (s *Set) Images() []Image {
	if s == nil || len(s.images) == 0 {
		return nil
	}
	out := make([]Image, len(s.images))
	copy(out, s.images)
	return out
}
