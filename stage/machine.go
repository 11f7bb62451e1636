package stage

// Machine is the stage/sub-stage state machine for one session. It tracks
// the current position in the active protocol and applies operator
// overrides. It is not goroutine-safe on its own; the engine serializes
// access.
type Machine struct {
	cfg       *Config
	stage     int
	subStage  SubStage
	completed bool
}

// NewMachine starts a machine at (1, default sub-stage) of the selected
// protocol.
func NewMachine(v Variant, t SpineType) *Machine {
	cfg := ConfigFor(v, t)
	return &Machine{
		cfg:      cfg,
		stage:    1,
		subStage: cfg.DefaultSubStage(1),
	}
}

func (m *Machine) Config() *Config    { return m.cfg }
func (m *Machine) Stage() int         { return m.stage }
func (m *Machine) SubStage() SubStage { return m.subStage }
func (m *Machine) MaxStages() int     { return m.cfg.MaxStages() }
func (m *Machine) Completed() bool    { return m.completed }

// SetStage moves to stage n. A request outside [1, maxStages] is rejected
// and leaves the machine untouched; the caller decides whether to surface
// that. On an accepted move the sub-stage resets to the target stage's
// default and the completed flag clears.
func (m *Machine) SetStage(n int) bool {
	if n < 1 || n > m.cfg.MaxStages() {
		return false
	}
	m.stage = n
	m.subStage = m.cfg.DefaultSubStage(n)
	m.completed = false
	return true
}

// NextStage and PrevStage are the operator's explicit single-step overrides.
func (m *Machine) NextStage() bool { return m.SetStage(m.stage + 1) }
func (m *Machine) PrevStage() bool { return m.SetStage(m.stage - 1) }

// Advance moves to the next (stage, subStage) position after a sustained
// target confirmation: within a stage that declares sub-stages it walks the
// sub-stage list first; past the last stage it marks the protocol completed.
// Returns true exactly when this call completed the protocol.
func (m *Machine) Advance() bool {
	if m.completed {
		return false
	}
	st, ok := m.cfg.StageByID(m.stage)
	if ok && len(st.SubStages) > 0 {
		for i, sub := range st.SubStages {
			if sub == m.subStage && i+1 < len(st.SubStages) {
				m.subStage = st.SubStages[i+1]
				return false
			}
		}
	}
	if m.stage >= m.cfg.MaxStages() {
		m.completed = true
		return true
	}
	m.stage++
	m.subStage = m.cfg.DefaultSubStage(m.stage)
	return false
}

// SetSpine switches the protocol to another spine type: position resets to
// (1, default), maxStages re-derives from the new table. Axis controllers
// are not part of the machine and keep their calibration.
func (m *Machine) SetSpine(t SpineType) {
	m.cfg = ConfigFor(m.cfg.Variant, t)
	m.stage = 1
	m.subStage = m.cfg.DefaultSubStage(1)
	m.completed = false
}

// SetVariant switches the stage-count scheme with the same reset semantics
// as a spine-type switch.
func (m *Machine) SetVariant(v Variant) {
	m.cfg = ConfigFor(v, m.cfg.Spine)
	m.stage = 1
	m.subStage = m.cfg.DefaultSubStage(1)
	m.completed = false
}
