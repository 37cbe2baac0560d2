package control

// Cadence decides which cycles do the full amount of work. The thermal check
// is not its concern: it runs every cycle.
//
// Low-power mode is entered once the low-temperature hint has been active for
// sleepLoops consecutive quiet cycles (no command, no state change). In
// low-power mode only every checkInterval-th cycle is a full one. Anything
// happening leaves low-power mode immediately.
type Cadence struct {
	checkInterval int
	sleepLoops    int

	quiet     int
	sinceFull int
	lowPower  bool
}

// NewCadence creates a cadence policy.
func NewCadence(checkInterval, sleepLoops int) *Cadence {
	if checkInterval < 1 {
		checkInterval = 1
	}
	if sleepLoops < 0 {
		sleepLoops = 0
	}
	return &Cadence{checkInterval: checkInterval, sleepLoops: sleepLoops}
}

// Next records one cycle and reports whether it should be a full cycle.
func (c *Cadence) Next(lowTemp, busy bool) bool {
	if !lowTemp || busy {
		c.quiet = 0
		c.sinceFull = 0
		c.lowPower = false
		return true
	}

	c.quiet++
	if !c.lowPower {
		if c.quiet >= c.sleepLoops {
			c.lowPower = true
			c.sinceFull = 0
		}
		return true
	}

	c.sinceFull++
	if c.sinceFull >= c.checkInterval {
		c.sinceFull = 0
		return true
	}
	return false
}

// LowPower reports whether the cadence is in low-power mode.
func (c *Cadence) LowPower() bool {
	return c.lowPower
}
