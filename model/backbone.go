package model

import (
	"errors"
	"fmt"
)

// BackboneType identifies the convolutional network whose pre-extracted
// features feed the top model. Training never runs the backbone itself;
// finetune mode validates and records it so saved weights are only ever
// loaded onto matching feature spaces.
type BackboneType int

const (
	BackboneUnknown BackboneType = iota
	BackboneGoogLeNet
	BackboneResNet50
	BackboneVGG16
)

// ErrUnknownBackbone indicates a backbone tag outside the closed set.
var ErrUnknownBackbone = errors.New("model: unknown backbone architecture")

// ParseBackbone resolves a backbone tag.
func ParseBackbone(s string) (BackboneType, error) {
	switch s {
	case "googlenet":
		return BackboneGoogLeNet, nil
	case "resnet50":
		return BackboneResNet50, nil
	case "vgg16":
		return BackboneVGG16, nil
	}
	return BackboneUnknown, fmt.Errorf("%w: %q", ErrUnknownBackbone, s)
}

func (b BackboneType) String() string {
	switch b {
	case BackboneGoogLeNet:
		return "googlenet"
	case BackboneResNet50:
		return "resnet50"
	case BackboneVGG16:
		return "vgg16"
	default:
		return "unknown"
	}
}

// BackboneDataset identifies the dataset a backbone was pretrained on.
type BackboneDataset int

const (
	DatasetUnknown BackboneDataset = iota
	DatasetImageNet
	DatasetPlaces365
)

// ErrUnknownDataset indicates a pretraining-dataset tag outside the closed
// set.
var ErrUnknownDataset = errors.New("model: unknown pretraining dataset")

// ParseBackboneDataset resolves a pretraining-dataset tag.
func ParseBackboneDataset(s string) (BackboneDataset, error) {
	switch s {
	case "imagenet":
		return DatasetImageNet, nil
	case "places365":
		return DatasetPlaces365, nil
	}
	return DatasetUnknown, fmt.Errorf("%w: %q", ErrUnknownDataset, s)
}

func (d BackboneDataset) String() string {
	switch d {
	case DatasetImageNet:
		return "imagenet"
	case DatasetPlaces365:
		return "places365"
	default:
		return "unknown"
	}
}

// Backbones lists the valid backbone tags.
func Backbones() []string { return []string{"googlenet", "resnet50", "vgg16"} }

// BackboneDatasets lists the valid pretraining-dataset tags.
func BackboneDatasets() []string { return []string{"imagenet", "places365"} }
