// Package models - Definitions for label spaces and their category taxonomies.
package models

// ModelFamily is the label taxonomy a detector was trained on.
type ModelFamily string

const (
	// ModelFamilyCOCO is the 80 COCO classes + background, mapped onto the sparse COCO ids.
	ModelFamilyCOCO ModelFamily = "coco"
	// ModelFamilyVOC is the 20 Pascal VOC classes + background.
	ModelFamilyVOC ModelFamily = "voc"
	// ModelFamilyCustom is a label space loaded from a file.
	ModelFamilyCustom ModelFamily = "custom"
)
