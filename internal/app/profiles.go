package app

import (
	"sync/atomic"

	"autosend/internal/automation"
	"autosend/internal/campaign"
)

// profileSet is the live profile table shared by campaigns and the API;
// a config reload swaps it in one step.
type profileSet struct {
	m atomic.Pointer[campaign.ProfileMap]
}

func newProfileSet(m campaign.ProfileMap) *profileSet {
	p := &profileSet{}
	p.Set(m)
	return p
}

func (p *profileSet) Set(m campaign.ProfileMap) {
	if m == nil {
		m = campaign.ProfileMap{}
	}
	p.m.Store(&m)
}

func (p *profileSet) Profile(id string) (automation.Config, bool) {
	m := p.m.Load()
	if m == nil {
		return automation.Config{}, false
	}
	c, ok := (*m)[id]
	if !ok {
		return automation.Config{}, false
	}
	return c.Clone(), true
}
