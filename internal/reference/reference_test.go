package reference

import (
	"errors"
	"testing"
)

func validImage(desc, tag string) Image {
	return Image{Data: []byte{0x89, 'P', 'N', 'G'}, Description: desc, Tag: tag}
}

func TestAddRejectsSixthImage(t *testing.T) {
	set := &Set{}
	for i := 0; i < MaxImages; i++ {
		if err := set.Add(validImage("ref", "style")); err != nil {
			t.Fatalf("Add %d returned error: %v", i, err)
		}
	}
	err := set.Add(validImage("one too many", "style"))
	if !errors.Is(err, ErrTooManyImages) {
		t.Fatalf("expected ErrTooManyImages, got %v", err)
	}
	if set.Len() != MaxImages {
		t.Fatalf("Len() = %d, want %d", set.Len(), MaxImages)
	}
}

func TestAddValidatesFields(t *testing.T) {
	tests := []struct {
		name string
		img  Image
	}{
		{"empty payload", Image{Description: "d", Tag: "t"}},
		{"missing description", Image{Data: []byte{1}, Tag: "t"}},
		{"missing tag", Image{Data: []byte{1}, Description: "d"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := (&Set{}).Add(tc.img); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestAddDefaultsMIME(t *testing.T) {
	set := &Set{}
	if err := set.Add(validImage("ref", "style")); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if got := set.Images()[0].MIME; got != "image/png" {
		t.Fatalf("MIME = %q, want image/png", got)
	}
}

func TestImagesReturnsCopy(t *testing.T) {
	set := &Set{}
	if err := set.Add(validImage("ref", "style")); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	images := set.Images()
	images[0].Description = "mutated"
	if set.Images()[0].Description != "ref" {
		t.Fatalf("set contents changed through returned slice")
	}
}

func TestNilSetIsEmpty(t *testing.T) {
	var set *Set
	if set.Len() != 0 {
		t.Fatalf("nil set Len() = %d, want 0", set.Len())
	}
	if set.Images() != nil {
		t.Fatalf("nil set Images() should be nil")
	}
}
