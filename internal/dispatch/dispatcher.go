// Package dispatch is the raw-protocol escape hatch: it resolves a
// target tab and forwards an opaque (domain, method, params) triple to
// the engine, returning the engine's structured result unmodified.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/manager"
)

// Dispatcher forwards raw protocol commands
type Dispatcher struct {
	mgr *manager.Manager
}

func New(mgr *manager.Manager) *Dispatcher {
	return &Dispatcher{mgr: mgr}
}

// Result is the dispatcher's response envelope: the resolved tab plus
// the engine's raw result
type Result struct {
	InstanceID string          `json:"instanceId"`
	TabID      string          `json:"tabId"`
	Method     string          `json:"method"`
	Result     json.RawMessage `json:"result"`
}

// Invoke resolves the target tab (active tab when tabID is empty) and
// forwards the triple. No validation of domain, method or params
// happens here; the caller owns the triple's correctness. This
// component only guarantees target resolution and consistent failure
// wrapping.
func (d *Dispatcher) Invoke(ctx context.Context, instanceID, tabID, domain, method string, params map[string]any) (Result, error) {
	if domain == "" || method == "" {
		return Result{}, fault.New(fault.KindProtocolError, "domain and method are required")
	}

	op, err := d.mgr.BeginTargetOp(instanceID, tabID, "protocol.invoke")
	if err != nil {
		return Result{}, err
	}

	raw, err := op.Invoke(ctx, domain, method, params)
	op.End(err == nil)
	if err != nil {
		return Result{}, op.Enrich(err)
	}

	return Result{
		InstanceID: instanceID,
		TabID:      op.Tab.ID,
		Method:     domain + "." + method,
		Result:     raw,
	}, nil
}
