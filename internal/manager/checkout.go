package manager

import (
	"sync"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// Checkout is a scoped exclusive hold on an instance. While held, the
// reaper will not reclaim the instance and destroy refuses to pool it.
// Release is idempotent and must run on every exit path; callers defer
// it immediately after a successful Checkout.
type Checkout struct {
	Instance models.Instance

	m       *Manager
	inst    *instance
	release sync.Once
}

// Checkout marks an instance as exclusively held. A second checkout of
// the same instance fails with ResourceBusy until the first releases.
func (m *Manager) Checkout(id string) (*Checkout, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return nil, m.enrich(err, "instance.checkout", id, "")
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.checkedOut {
		return nil, m.enrich(
			fault.New(fault.KindResourceBusy, "instance %s is already checked out", id),
			"instance.checkout", id, "")
	}
	inst.checkedOut = true
	inst.touch()

	return &Checkout{
		Instance: inst.snapshot(),
		m:        m,
		inst:     inst,
	}, nil
}

// Release returns the instance to shared use
func (c *Checkout) Release() {
	c.release.Do(func() {
		c.inst.mu.Lock()
		c.inst.checkedOut = false
		c.inst.touch()
		c.inst.mu.Unlock()
	})
}
