package stage

// CountdownSeconds is the sustained-target hold required before a stage
// advance.
const CountdownSeconds = 5

// Countdown confirms a sustained in-range hold. It is armed when all active
// axes come into range, canceled outright the moment any leaves (no partial
// credit), and fires once when the hold lasts the full duration.
type Countdown struct {
	active    bool
	remaining int
	duration  int
}

// NewCountdown creates an inactive countdown over the given hold duration.
func NewCountdown(seconds int) *Countdown {
	if seconds < 1 {
		seconds = CountdownSeconds
	}
	return &Countdown{duration: seconds}
}

func (c *Countdown) Active() bool   { return c.active }
func (c *Countdown) Remaining() int { return c.remaining }

// Start arms the countdown at the full duration. Starting an already-active
// countdown is a no-op.
func (c *Countdown) Start() {
	if c.active {
		return
	}
	c.active = true
	c.remaining = c.duration
}

// Cancel disarms without credit. Canceling an inactive countdown is a no-op.
func (c *Countdown) Cancel() {
	if !c.active {
		return
	}
	c.active = false
	c.remaining = 0
}

// Tick consumes one second of the hold. Returns true exactly when the hold
// completed; the countdown deactivates itself on completion.
func (c *Countdown) Tick() bool {
	if !c.active {
		return false
	}
	c.remaining--
	if c.remaining > 0 {
		return false
	}
	c.active = false
	c.remaining = 0
	return true
}

// State snapshots the countdown for rendering.
func (c *Countdown) State() CountdownState {
	return CountdownState{Active: c.active, Remaining: c.remaining}
}
