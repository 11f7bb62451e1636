package stage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/posturelab/spine-trainer-station/axis"
)

var ErrUnmappedEvent = errors.New("event not in active vocabulary")

// Config is the immutable stage table for one (variant, spine type) pair,
// constructed once at startup. All lookups go through it; nothing mutates it
// at runtime.
type Config struct {
	Variant Variant
	Spine   SpineType
	Stages  []StageSpec

	vocab map[vocabKey]EventSpec
}

type vocabKey struct {
	stage int
	name  string
}

var protocols = map[Variant]map[SpineType]*Config{}

func init() {
	for _, cfg := range []*Config{compactC(), compactS(), splitC(), splitS()} {
		cfg.vocab = make(map[vocabKey]EventSpec)
		for _, st := range cfg.Stages {
			for _, ev := range st.Events {
				cfg.vocab[vocabKey{st.ID, ev.Name}] = ev
			}
		}
		byType, ok := protocols[cfg.Variant]
		if !ok {
			byType = make(map[SpineType]*Config)
			protocols[cfg.Variant] = byType
		}
		byType[cfg.Spine] = cfg
	}
}

// ConfigFor returns the stage table for a variant and spine type.
func ConfigFor(v Variant, t SpineType) *Config {
	return protocols[ParseVariant(string(v))][ParseSpineType(string(t))]
}

func compactC() *Config {
	return &Config{
		Variant: VariantCompact,
		Spine:   SpineC,
		Stages: []StageSpec{
			{
				ID: 1, Label: "阶段1", Description: "骨盆前后旋转调整",
				ActiveAxes: []axis.Kind{axis.Rotation},
				Events: []EventSpec{
					{Name: "开始训练", Code: "training_start", Axis: axis.Rotation, Kind: axis.CalibrationOriginal},
					{Name: "完成阶段", Code: "stage_complete", Axis: axis.Rotation, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 2, Label: "阶段2", Description: "脊柱曲率矫正",
				ActiveAxes: []axis.Kind{axis.Curvature},
				Events: []EventSpec{
					{Name: "开始矫正", Code: "correction_start", Axis: axis.Curvature, Kind: axis.CalibrationOriginal},
					{Name: "矫正完成", Code: "correction_complete", Axis: axis.Curvature, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 3, Label: "阶段3", Description: "关节平衡调整",
				ActiveAxes: []axis.Kind{axis.TiltA, axis.TiltB},
				SubStages:  []SubStage{SubStageHip, SubStageShoulder},
				Events: []EventSpec{
					{Name: "开始沉髋", Code: "hip_start", Axis: axis.TiltA, Kind: axis.CalibrationOriginal},
					{Name: "沉髋完成", Code: "hip_complete", Axis: axis.TiltA, Kind: axis.CalibrationTarget},
					{Name: "开始沉肩", Code: "shoulder_start", Axis: axis.TiltB, Kind: axis.CalibrationOriginal},
					{Name: "沉肩完成", Code: "shoulder_complete", Axis: axis.TiltB, Kind: axis.CalibrationTarget},
				},
			},
		},
	}
}

func compactS() *Config {
	return &Config{
		Variant: VariantCompact,
		Spine:   SpineS,
		Stages: []StageSpec{
			{
				ID: 1, Label: "阶段1", Description: "骨盆前后旋转调整",
				ActiveAxes: []axis.Kind{axis.Rotation},
				Events: []EventSpec{
					{Name: "开始训练", Code: "training_start", Axis: axis.Rotation, Kind: axis.CalibrationOriginal},
					{Name: "完成阶段", Code: "stage_complete", Axis: axis.Rotation, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 2, Label: "阶段2", Description: "腰椎曲率矫正",
				ActiveAxes: []axis.Kind{axis.Curvature},
				Events: []EventSpec{
					{Name: "开始腰椎矫正", Code: "lumbar_correction_start", Axis: axis.Curvature, Kind: axis.CalibrationOriginal},
					{Name: "腰椎矫正完成", Code: "lumbar_correction_complete", Axis: axis.Curvature, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 3, Label: "阶段3", Description: "胸椎曲率矫正",
				ActiveAxes: []axis.Kind{axis.TiltA},
				Events: []EventSpec{
					{Name: "开始胸椎矫正", Code: "thoracic_correction_start", Axis: axis.TiltA, Kind: axis.CalibrationOriginal},
					{Name: "胸椎矫正完成", Code: "thoracic_correction_complete", Axis: axis.TiltA, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 4, Label: "阶段4", Description: "肩部左右倾斜调整",
				ActiveAxes: []axis.Kind{axis.TiltB},
				Events: []EventSpec{
					{Name: "开始肩部调整", Code: "shoulder_adjust_start", Axis: axis.TiltB, Kind: axis.CalibrationOriginal},
					{Name: "肩部调整完成", Code: "shoulder_adjust_complete", Axis: axis.TiltB, Kind: axis.CalibrationTarget},
				},
			},
		},
	}
}

func splitC() *Config {
	return &Config{
		Variant: VariantSplit,
		Spine:   SpineC,
		Stages: []StageSpec{
			{
				ID: 1, Label: "阶段1", Description: "骨盆前后翻转（只调整骨盆前后翻转）",
				ActiveAxes: []axis.Kind{axis.Rotation},
				Events: []EventSpec{
					{Name: "开始训练", Code: "training_start", Axis: axis.Rotation, Kind: axis.CalibrationOriginal},
					{Name: "完成阶段", Code: "stage_complete", Axis: axis.Rotation, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 2, Label: "阶段2", Description: "脊柱曲率矫正-单段（只调整脊柱曲率矫正）",
				ActiveAxes: []axis.Kind{axis.Curvature},
				Events: []EventSpec{
					{Name: "开始矫正", Code: "correction_start", Axis: axis.Curvature, Kind: axis.CalibrationOriginal},
					{Name: "矫正完成", Code: "correction_complete", Axis: axis.Curvature, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 3, Label: "阶段3", Description: "骨盆左右倾斜（只调整骨盆左右倾斜）",
				ActiveAxes: []axis.Kind{axis.TiltA, axis.TiltB},
				Events: []EventSpec{
					{Name: "开始沉髋", Code: "hip_start", Axis: axis.TiltA, Kind: axis.CalibrationOriginal},
					{Name: "沉髋完成", Code: "hip_complete", Axis: axis.TiltA, Kind: axis.CalibrationTarget},
					{Name: "开始沉肩", Code: "shoulder_start", Axis: axis.TiltB, Kind: axis.CalibrationOriginal},
					{Name: "沉肩完成", Code: "shoulder_complete", Axis: axis.TiltB, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 4, Label: "阶段4", Description: "肩部左右倾斜（只调整肩部左右倾斜）",
				ActiveAxes: []axis.Kind{axis.TiltB},
				Events: []EventSpec{
					{Name: "完成训练", Code: "training_complete", Axis: axis.TiltB, Kind: axis.CalibrationTarget},
				},
			},
		},
	}
}

func splitS() *Config {
	return &Config{
		Variant: VariantSplit,
		Spine:   SpineS,
		Stages: []StageSpec{
			{
				ID: 1, Label: "阶段1", Description: "骨盆前后翻转",
				ActiveAxes: []axis.Kind{axis.Rotation},
				Events: []EventSpec{
					{Name: "开始训练", Code: "training_start", Axis: axis.Rotation, Kind: axis.CalibrationOriginal},
					{Name: "完成阶段", Code: "stage_complete", Axis: axis.Rotation, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 2, Label: "阶段2A", Description: "上胸段曲率矫正",
				ActiveAxes: []axis.Kind{axis.Curvature},
				Events: []EventSpec{
					{Name: "开始矫正(胸段)", Code: "correction_start_up", Axis: axis.Curvature, Kind: axis.CalibrationOriginal},
					{Name: "矫正完成(胸段)", Code: "correction_complete_up", Axis: axis.Curvature, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 3, Label: "阶段2B", Description: "腰段曲率矫正",
				ActiveAxes: []axis.Kind{axis.Curvature},
				Events: []EventSpec{
					{Name: "开始矫正(腰段)", Code: "correction_start_down", Axis: axis.Curvature, Kind: axis.CalibrationOriginal},
					{Name: "矫正完成(腰段)", Code: "correction_complete_down", Axis: axis.Curvature, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 4, Label: "阶段3", Description: "骨盆左右倾斜",
				ActiveAxes: []axis.Kind{axis.TiltA},
				Events: []EventSpec{
					{Name: "开始沉髋", Code: "hip_start", Axis: axis.TiltA, Kind: axis.CalibrationOriginal},
					{Name: "沉髋完成", Code: "hip_complete", Axis: axis.TiltA, Kind: axis.CalibrationTarget},
				},
			},
			{
				ID: 5, Label: "阶段4", Description: "肩部左右倾斜",
				ActiveAxes: []axis.Kind{axis.TiltB},
				Events: []EventSpec{
					{Name: "开始沉肩", Code: "shoulder_start", Axis: axis.TiltB, Kind: axis.CalibrationOriginal},
					{Name: "沉肩完成", Code: "shoulder_complete", Axis: axis.TiltB, Kind: axis.CalibrationTarget},
				},
			},
		},
	}
}

// MaxStages is the number of stages in this protocol.
func (c *Config) MaxStages() int { return len(c.Stages) }

// StageByID returns the stage descriptor, if the id is in range.
func (c *Config) StageByID(id int) (StageSpec, bool) {
	for _, st := range c.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return StageSpec{}, false
}

// DefaultSubStage is the sub-stage a stage starts in: the first declared
// sub-stage, or none.
func (c *Config) DefaultSubStage(id int) SubStage {
	st, ok := c.StageByID(id)
	if !ok || len(st.SubStages) == 0 {
		return SubStageNone
	}
	return st.SubStages[0]
}

// Label returns the display label for a stage (阶段1, 阶段2A, ...).
func (c *Config) Label(id int) string {
	if st, ok := c.StageByID(id); ok {
		return st.Label
	}
	return fmt.Sprintf("阶段%d", id)
}

// CanonicalLabels lists all stage labels in order.
func (c *Config) CanonicalLabels() []string {
	labels := make([]string, 0, len(c.Stages))
	for _, st := range c.Stages {
		labels = append(labels, st.Label)
	}
	return labels
}

// Description composes the operator-facing stage description.
func (c *Config) Description(id int) string {
	st, ok := c.StageByID(id)
	if !ok {
		return "未知阶段"
	}
	return st.Label + "：" + st.Description
}

func hasHipHint(name, code string) bool {
	return strings.Contains(strings.ToLower(code), "hip") || strings.Contains(name, "沉髋")
}

func hasShoulderHint(name, code string) bool {
	return strings.Contains(strings.ToLower(code), "shoulder") || strings.Contains(name, "沉肩")
}

// calibrationKindFromName derives the captured snapshot from the event name:
// 开始 marks an original capture, 完成 a target capture.
func calibrationKindFromName(name string) (axis.CalibrationKind, bool) {
	if strings.Contains(name, "开始") {
		return axis.CalibrationOriginal, true
	}
	if strings.Contains(name, "完成") {
		return axis.CalibrationTarget, true
	}
	return 0, false
}

// Resolve maps an event to its axis binding. It keys on the exact
// (stage, name) pair; inside a multi-axis stage an unknown name is
// disambiguated by hip/shoulder hints in the name or code. Anything else is
// an unmapped event; the caller records it without mutating any axis.
func (c *Config) Resolve(stageID int, name, code string) (EventSpec, error) {
	if spec, ok := c.vocab[vocabKey{stageID, name}]; ok {
		return spec, nil
	}
	st, ok := c.StageByID(stageID)
	if !ok {
		return EventSpec{}, fmt.Errorf("%w: stage %d has no vocabulary", ErrUnmappedEvent, stageID)
	}
	if len(st.ActiveAxes) > 1 {
		kind, kindOK := calibrationKindFromName(name)
		if kindOK && hasHipHint(name, code) {
			return EventSpec{Name: name, Code: code, Axis: axis.TiltA, Kind: kind}, nil
		}
		if kindOK && hasShoulderHint(name, code) {
			return EventSpec{Name: name, Code: code, Axis: axis.TiltB, Kind: kind}, nil
		}
	}
	return EventSpec{}, fmt.Errorf("%w: %q (stage %d, %s/%s)", ErrUnmappedEvent, name, stageID, c.Variant, c.Spine)
}

// CompletionEvent returns the target-capture vocabulary entry for the axis
// active at (stage, subStage), when the position names exactly one axis.
func (c *Config) CompletionEvent(stageID int, sub SubStage) (EventSpec, bool) {
	st, ok := c.StageByID(stageID)
	if !ok {
		return EventSpec{}, false
	}
	var active axis.Kind
	switch {
	case sub == SubStageHip:
		active = axis.TiltA
	case sub == SubStageShoulder:
		active = axis.TiltB
	case len(st.ActiveAxes) == 1:
		active = st.ActiveAxes[0]
	default:
		return EventSpec{}, false
	}
	for _, ev := range st.Events {
		if ev.Axis == active && ev.Kind == axis.CalibrationTarget {
			return ev, true
		}
	}
	return EventSpec{}, false
}

// TargetEventFor finds the first target-capture entry bound to an axis
// anywhere in the protocol, along with its stage. Used when an external
// weight assignment needs a synthetic calibration event name.
func (c *Config) TargetEventFor(kind axis.Kind) (int, EventSpec, bool) {
	for _, st := range c.Stages {
		for _, ev := range st.Events {
			if ev.Axis == kind && ev.Kind == axis.CalibrationTarget {
				return st.ID, ev, true
			}
		}
	}
	return 0, EventSpec{}, false
}

// ActiveAxesAt narrows a stage's axis set to the current sub-stage.
func (c *Config) ActiveAxesAt(stageID int, sub SubStage) []axis.Kind {
	st, ok := c.StageByID(stageID)
	if !ok {
		return nil
	}
	switch sub {
	case SubStageHip:
		return []axis.Kind{axis.TiltA}
	case SubStageShoulder:
		return []axis.Kind{axis.TiltB}
	default:
		return st.ActiveAxes
	}
}
