package model

import (
	"errors"
	"testing"
)

func TestParseBackbone(t *testing.T) {
	for _, tag := range Backbones() {
		got, err := ParseBackbone(tag)
		if err != nil {
			t.Fatalf("ParseBackbone(%q) failed: %v", tag, err)
		}
		if got == BackboneUnknown {
			t.Errorf("ParseBackbone(%q) = unknown", tag)
		}
		if got.String() != tag {
			t.Errorf("String = %q, want %q", got.String(), tag)
		}
	}

	if _, err := ParseBackbone("alexnet"); !errors.Is(err, ErrUnknownBackbone) {
		t.Errorf("error = %v, want ErrUnknownBackbone", err)
	}
}

func TestParseBackboneDataset(t *testing.T) {
	for _, tag := range BackboneDatasets() {
		got, err := ParseBackboneDataset(tag)
		if err != nil {
			t.Fatalf("ParseBackboneDataset(%q) failed: %v", tag, err)
		}
		if got == DatasetUnknown {
			t.Errorf("ParseBackboneDataset(%q) = unknown", tag)
		}
		if got.String() != tag {
			t.Errorf("String = %q, want %q", got.String(), tag)
		}
	}

	if _, err := ParseBackboneDataset("coco"); !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("error = %v, want ErrUnknownDataset", err)
	}
}
