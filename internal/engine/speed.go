package engine

import (
	"fmt"
	"time"
)

type SpeedMode string

const (
	SpeedFixed       SpeedMode = "fixed"
	SpeedProgressive SpeedMode = "progressive"
	SpeedLevel       SpeedMode = "level"
)

// SpeedPlan selects and parameterizes the gravity interval policy.
type SpeedPlan struct {
	Mode            SpeedMode `json:"mode"`
	InitialDropMs   int       `json:"initialDropMs"`
	MinDropMs       int       `json:"minDropMs"`
	IntervalSec     int       `json:"intervalSec,omitempty"`
	StepMs          int       `json:"stepMs"`
	LinesPerSpeedup int       `json:"linesPerSpeedup,omitempty"`
}

// WithDefaults fills zero fields with the per-mode defaults.
func (p SpeedPlan) WithDefaults() SpeedPlan {
	if p.Mode == "" {
		p.Mode = SpeedProgressive
	}
	if p.InitialDropMs <= 0 {
		p.InitialDropMs = 500
	}
	switch p.Mode {
	case SpeedLevel:
		if p.MinDropMs <= 0 {
			p.MinDropMs = 50
		}
		if p.StepMs <= 0 {
			p.StepMs = 20
		}
		if p.LinesPerSpeedup <= 0 {
			p.LinesPerSpeedup = 1
		}
	default:
		if p.MinDropMs <= 0 {
			p.MinDropMs = 100
		}
		if p.StepMs <= 0 {
			p.StepMs = 50
		}
		if p.IntervalSec <= 0 {
			p.IntervalSec = 30
		}
	}
	return p
}

func (p SpeedPlan) Validate() error {
	switch p.Mode {
	case SpeedFixed, SpeedProgressive, SpeedLevel:
	default:
		return fmt.Errorf("unknown speed mode %q", p.Mode)
	}
	if p.MinDropMs > p.InitialDropMs {
		return fmt.Errorf("minDropMs %d above initialDropMs %d", p.MinDropMs, p.InitialDropMs)
	}
	return nil
}

// Curve tracks the current gravity interval for one match.
type Curve struct {
	plan    SpeedPlan
	current int
}

func NewCurve(p SpeedPlan) *Curve {
	p = p.WithDefaults()
	return &Curve{plan: p, current: p.InitialDropMs}
}

func (c *Curve) Plan() SpeedPlan { return c.plan }

func (c *Curve) Interval() time.Duration {
	return time.Duration(c.current) * time.Millisecond
}

func (c *Curve) IntervalMs() int { return c.current }

// Update recomputes the interval from elapsed match time and the total
// lines cleared across all boards. It reports whether the interval changed
// and a human readable reason.
func (c *Curve) Update(elapsed time.Duration, totalLines int) (bool, string) {
	next := c.current
	var reason string
	switch c.plan.Mode {
	case SpeedProgressive:
		secs := int(elapsed / time.Second)
		steps := secs / c.plan.IntervalSec
		next = max(c.plan.MinDropMs, c.plan.InitialDropMs-steps*c.plan.StepMs)
		reason = fmt.Sprintf("Time %ds", secs)
	case SpeedLevel:
		steps := totalLines / c.plan.LinesPerSpeedup
		next = max(c.plan.MinDropMs, c.plan.InitialDropMs-steps*c.plan.StepMs)
		reason = fmt.Sprintf("%d lines cleared", totalLines)
	default:
		return false, ""
	}
	if next == c.current {
		return false, ""
	}
	c.current = next
	return true, reason
}
