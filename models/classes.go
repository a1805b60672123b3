package models

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownClass is returned when a class index has no entry in the label space.
var ErrUnknownClass = errors.New("unknown class index")

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int `json:"index" yaml:"index"`
	// The human-readable label.
	Name string `json:"name" yaml:"name"`
	// The id of the label in the external annotation taxonomy. Zero for background.
	CategoryID int `json:"category_id" yaml:"category_id"`
}

// OutputClassSet ties a style to its full list of labels and maps model class indices onto
// external category ids, which may have gaps (COCO skips 12, 26, 29, ...).
type OutputClassSet struct {
	// Class set identifier.
	Style ModelFamily `json:"style" yaml:"style"`
	// Classes that are supported and mappable, ordered by index.
	Classes []OutputClass `json:"classes" yaml:"classes"`
}

// NumClasses returns the number of classes including background.
func (s *OutputClassSet) NumClasses() int {
	return len(s.Classes)
}

// Name returns the class name for an index, or an empty string when out of range.
func (s *OutputClassSet) Name(idx int) string {
	if idx < 0 || idx >= len(s.Classes) {
		return ""
	}
	return s.Classes[idx].Name
}

// CategoryID maps a model class index onto the external category id.
//
// Arguments:
//   - idx: The model class index.
//
// Returns:
//   - int: The external category id.
//   - error: ErrUnknownClass when idx is background or out of range.
func (s *OutputClassSet) CategoryID(idx int) (int, error) {
	if idx <= 0 || idx >= len(s.Classes) {
		return 0, errors.Wrapf(ErrUnknownClass, "index %d out of range for style %q", idx, s.Style)
	}
	return s.Classes[idx].CategoryID, nil
}

// CategoryIDs returns the external ids of every foreground class, in index order.
func (s *OutputClassSet) CategoryIDs() []int {
	if len(s.Classes) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.Classes)-1)
	for _, c := range s.Classes[1:] {
		ids = append(ids, c.CategoryID)
	}
	return ids
}

// Validate checks that indices are dense, and that foreground category ids are positive and
// unique.
func (s *OutputClassSet) Validate() error {
	if len(s.Classes) < 2 {
		return errors.Errorf("label space %q needs background plus at least one class", s.Style)
	}
	seen := make(map[int]int, len(s.Classes))
	for i, c := range s.Classes {
		if c.Index != i {
			return errors.Errorf("class %q has index %d at position %d", c.Name, c.Index, i)
		}
		if i == 0 {
			continue
		}
		if c.CategoryID <= 0 {
			return errors.Errorf("class %q has non-positive category id %d", c.Name, c.CategoryID)
		}
		if prev, ok := seen[c.CategoryID]; ok {
			return errors.Errorf("category id %d used by classes %d and %d", c.CategoryID, prev, i)
		}
		seen[c.CategoryID] = i
	}
	return nil
}

// LoadClassSet reads a label space from a YAML file of the form
//
//	style: custom
//	classes:
//	  - {index: 0, name: __background__, category_id: 0}
//	  - {index: 1, name: person, category_id: 1}
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *OutputClassSet: The validated label space.
//   - error: An error if the file cannot be read or is invalid.
func LoadClassSet(path string) (*OutputClassSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read label space %s", path)
	}
	var set OutputClassSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrapf(err, "parse label space %s", path)
	}
	if set.Style == "" {
		set.Style = ModelFamilyCustom
	}
	if err := set.Validate(); err != nil {
		return nil, errors.Wrapf(err, "label space %s", path)
	}
	return &set, nil
}

// LookupClassSet returns a copy of a built-in label space.
func LookupClassSet(style ModelFamily) (*OutputClassSet, error) {
	for _, set := range AllClassSets {
		if set.Style == style {
			s := set
			s.Classes = append([]OutputClass(nil), set.Classes...)
			return &s, nil
		}
	}
	return nil, errors.Errorf("style %q not registered", style)
}

// COCOClasses is the full 80 COCO classes plus "__background__" at index 0, mapped onto the
// official COCO category ids.
var COCOClasses = OutputClassSet{
	Style: ModelFamilyCOCO,
	Classes: []OutputClass{
		{0, "__background__", 0},
		{1, "person", 1},
		{2, "bicycle", 2},
		{3, "car", 3},
		{4, "motorcycle", 4},
		{5, "airplane", 5},
		{6, "bus", 6},
		{7, "train", 7},
		{8, "truck", 8},
		{9, "boat", 9},
		{10, "traffic light", 10},
		{11, "fire hydrant", 11},
		{12, "stop sign", 13},
		{13, "parking meter", 14},
		{14, "bench", 15},
		{15, "bird", 16},
		{16, "cat", 17},
		{17, "dog", 18},
		{18, "horse", 19},
		{19, "sheep", 20},
		{20, "cow", 21},
		{21, "elephant", 22},
		{22, "bear", 23},
		{23, "zebra", 24},
		{24, "giraffe", 25},
		{25, "backpack", 27},
		{26, "umbrella", 28},
		{27, "handbag", 31},
		{28, "tie", 32},
		{29, "suitcase", 33},
		{30, "frisbee", 34},
		{31, "skis", 35},
		{32, "snowboard", 36},
		{33, "sports ball", 37},
		{34, "kite", 38},
		{35, "baseball bat", 39},
		{36, "baseball glove", 40},
		{37, "skateboard", 41},
		{38, "surfboard", 42},
		{39, "tennis racket", 43},
		{40, "bottle", 44},
		{41, "wine glass", 46},
		{42, "cup", 47},
		{43, "fork", 48},
		{44, "knife", 49},
		{45, "spoon", 50},
		{46, "bowl", 51},
		{47, "banana", 52},
		{48, "apple", 53},
		{49, "sandwich", 54},
		{50, "orange", 55},
		{51, "broccoli", 56},
		{52, "carrot", 57},
		{53, "hot dog", 58},
		{54, "pizza", 59},
		{55, "donut", 60},
		{56, "cake", 61},
		{57, "chair", 62},
		{58, "couch", 63},
		{59, "potted plant", 64},
		{60, "bed", 65},
		{61, "dining table", 67},
		{62, "toilet", 70},
		{63, "tv", 72},
		{64, "laptop", 73},
		{65, "mouse", 74},
		{66, "remote", 75},
		{67, "keyboard", 76},
		{68, "cell phone", 77},
		{69, "microwave", 78},
		{70, "oven", 79},
		{71, "toaster", 80},
		{72, "sink", 81},
		{73, "refrigerator", 82},
		{74, "book", 84},
		{75, "clock", 85},
		{76, "vase", 86},
		{77, "scissors", 87},
		{78, "teddy bear", 88},
		{79, "hair drier", 89},
		{80, "toothbrush", 90},
	},
}

// PascalVOCClasses is the 20 Pascal VOC classes + "__background__" at index 0.
var PascalVOCClasses = OutputClassSet{
	Style: ModelFamilyVOC,
	Classes: []OutputClass{
		{0, "__background__", 0},
		{1, "aeroplane", 1},
		{2, "bicycle", 2},
		{3, "bird", 3},
		{4, "boat", 4},
		{5, "bottle", 5},
		{6, "bus", 6},
		{7, "car", 7},
		{8, "cat", 8},
		{9, "chair", 9},
		{10, "cow", 10},
		{11, "diningtable", 11},
		{12, "dog", 12},
		{13, "horse", 13},
		{14, "motorbike", 14},
		{15, "person", 15},
		{16, "pottedplant", 16},
		{17, "sheep", 17},
		{18, "sofa", 18},
		{19, "train", 19},
		{20, "tvmonitor", 20},
	},
}

// AllClassSets collects every built-in OutputClassSet in one place.
var AllClassSets = []OutputClassSet{
	COCOClasses,
	PascalVOCClasses,
}
