package registry

import (
	"fmt"

	"github.com/cityclaims/cityclaims/pkg/types"
)

// Schedule holds the block boundaries of one contract generation for a city
type Schedule struct {
	City             types.City
	Version          types.Version
	ActivationHeight uint64
	// ShutdownHeight is the last block mined under this generation, or 0 while
	// the generation is still active.
	ShutdownHeight uint64
	// Stacking is nil for generations that have no stacking contract
	Stacking *StackingSchedule
}

// StackingSchedule defines how reward cycles are numbered
type StackingSchedule struct {
	GenesisHeight uint64
	CycleLength   uint64
	StartCycle    uint64
	// EndCycle is the last cycle that can be targeted, or 0 if open ended
	EndCycle uint64
	// UseBurnHeight selects the burn-chain height instead of the stacks height
	UseBurnHeight bool
}

// Retired reports whether the generation has been shut down
func (s Schedule) Retired() bool {
	return s.ShutdownHeight != 0
}

// CycleAt returns the cycle containing height
func (s StackingSchedule) CycleAt(height uint64) (uint64, bool) {
	if s.CycleLength == 0 || height < s.GenesisHeight {
		return 0, false
	}
	return (height - s.GenesisHeight) / s.CycleLength, true
}

// InRange reports whether cycle may be targeted under this schedule
func (s StackingSchedule) InRange(cycle uint64) bool {
	if cycle < s.StartCycle {
		return false
	}
	return s.EndCycle == 0 || cycle <= s.EndCycle
}

func (s Schedule) validate() error {
	if !s.City.IsValid() {
		return fmt.Errorf("registry: schedule has invalid city %q", s.City)
	}
	if !s.Version.IsValid() {
		return fmt.Errorf("registry: schedule for %s has invalid version %d", s.City, int(s.Version))
	}
	if s.ActivationHeight == 0 {
		return fmt.Errorf("registry: schedule %s/%s has no activation height", s.City, s.Version)
	}
	if s.Retired() && s.ShutdownHeight <= s.ActivationHeight {
		return fmt.Errorf("registry: schedule %s/%s shuts down before it activates", s.City, s.Version)
	}
	if st := s.Stacking; st != nil {
		if st.CycleLength == 0 {
			return fmt.Errorf("registry: schedule %s/%s has zero cycle length", s.City, s.Version)
		}
		if st.EndCycle != 0 && st.EndCycle < st.StartCycle {
			return fmt.Errorf("registry: schedule %s/%s ends before it starts", s.City, s.Version)
		}
	}
	return nil
}
