// Package models - Class sets, and the registries that resolve models and
// output parsers by name.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-mrcnn/models/model"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a model family to its full list of labels.
type OutputClassSet struct {
	// Family is the class set identifier.
	Family model.Family
	// Classes that are supported and mappable.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Name returns the label of idx, or "" when idx is out of range.
func (s *OutputClassSet) Name(idx int) string {
	if idx < 0 || idx >= len(s.Classes) {
		return ""
	}
	return s.Classes[idx].Name
}

// ClassManager holds all registered class sets.
type ClassManager struct {
	sets map[model.Family]*OutputClassSet
}

// NewClassManager initializes and registers the given sets.
func NewClassManager(allSets ...*OutputClassSet) *ClassManager {
	mgr := &ClassManager{sets: make(map[model.Family]*OutputClassSet)}
	for _, set := range allSets {
		set.BuildNameIndexMap()
		mgr.sets[set.Family] = set
	}
	return mgr
}

// Set returns the class set registered for family.
func (m *ClassManager) Set(family model.Family) (*OutputClassSet, error) {
	set, ok := m.sets[family]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFamily, "%q", family)
	}
	return set, nil
}

// GetIndex returns the class index for a given family and name.
func (m *ClassManager) GetIndex(family model.Family, name string) (int, error) {
	set, err := m.Set(family)
	if err != nil {
		return -1, err
	}
	idx, ok := set.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("name %q not found in family %q", name, family)
	}
	return idx, nil
}

// GetIndices resolves class names to indices. Unknown names are an error.
//
// Arguments:
//   - family: The class family the names belong to.
//   - names: The class names, e.g. from a filter list in the configuration.
//
// Returns:
//   - []int: The indices, in the order of names.
//   - error: An error for the first unknown family or name.
func (m *ClassManager) GetIndices(family model.Family, names []string) ([]int, error) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		idx, err := m.GetIndex(family, name)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// COCOClasses is the 80 COCO classes plus "__background__" at index 0, in the
// order used by Mask-RCNN COCO exports.
var COCOClasses = OutputClassSet{
	Family: model.ModelFamilyCOCO,
	Classes: []OutputClass{
		{0, "__background__"},
		{1, "person"},
		{2, "bicycle"},
		{3, "car"},
		{4, "motorcycle"},
		{5, "airplane"},
		{6, "bus"},
		{7, "train"},
		{8, "truck"},
		{9, "boat"},
		{10, "traffic light"},
		{11, "fire hydrant"},
		{12, "stop sign"},
		{13, "parking meter"},
		{14, "bench"},
		{15, "bird"},
		{16, "cat"},
		{17, "dog"},
		{18, "horse"},
		{19, "sheep"},
		{20, "cow"},
		{21, "elephant"},
		{22, "bear"},
		{23, "zebra"},
		{24, "giraffe"},
		{25, "backpack"},
		{26, "umbrella"},
		{27, "handbag"},
		{28, "tie"},
		{29, "suitcase"},
		{30, "frisbee"},
		{31, "skis"},
		{32, "snowboard"},
		{33, "sports ball"},
		{34, "kite"},
		{35, "baseball bat"},
		{36, "baseball glove"},
		{37, "skateboard"},
		{38, "surfboard"},
		{39, "tennis racket"},
		{40, "bottle"},
		{41, "wine glass"},
		{42, "cup"},
		{43, "fork"},
		{44, "knife"},
		{45, "spoon"},
		{46, "bowl"},
		{47, "banana"},
		{48, "apple"},
		{49, "sandwich"},
		{50, "orange"},
		{51, "broccoli"},
		{52, "carrot"},
		{53, "hot dog"},
		{54, "pizza"},
		{55, "donut"},
		{56, "cake"},
		{57, "chair"},
		{58, "couch"},
		{59, "potted plant"},
		{60, "bed"},
		{61, "dining table"},
		{62, "toilet"},
		{63, "tv"},
		{64, "laptop"},
		{65, "mouse"},
		{66, "remote"},
		{67, "keyboard"},
		{68, "cell phone"},
		{69, "microwave"},
		{70, "oven"},
		{71, "toaster"},
		{72, "sink"},
		{73, "refrigerator"},
		{74, "book"},
		{75, "clock"},
		{76, "vase"},
		{77, "scissors"},
		{78, "teddy bear"},
		{79, "hair drier"},
		{80, "toothbrush"},
	},
}

// ErrUnknownFamily is returned for class families that are not registered.
var ErrUnknownFamily = errors.New("unknown class family")

var defaultClasses = NewClassManager(&COCOClasses)

// DefaultClassManager returns the manager holding the built-in class sets.
func DefaultClassManager() *ClassManager {
	return defaultClasses
}
