package knobs

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/errors"
)

// ChangeResult records a knob mutation for audit logging by the caller.
// Persisting the audit trail is the store's concern, not the resolver's.
type ChangeResult struct {
	CallID    string      `json:"call_id,omitempty"`
	Key       string      `json:"key"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
}

// Resolver layers baseline configuration, global overrides and call-scoped
// overrides over the catalog defaults. Resolution happens every frame and
// never performs IO; overrides are written rarely from control surfaces,
// so a plain RWMutex is enough.
type Resolver struct {
	mu sync.RWMutex

	baseline      map[string]interface{}
	overrides     map[string]interface{}
	callOverrides map[string]map[string]interface{}

	logger *logrus.Logger
}

// NewResolver validates the baseline against the catalog and fails fast on
// any unknown key or out-of-range value.
func NewResolver(baseline map[string]interface{}, logger *logrus.Logger) (*Resolver, error) {
	for key, value := range baseline {
		if err := Validate(key, value); err != nil {
			return nil, err
		}
	}

	copied := make(map[string]interface{}, len(baseline))
	for key, value := range baseline {
		copied[key] = value
	}

	return &Resolver{
		baseline:      copied,
		overrides:     make(map[string]interface{}),
		callOverrides: make(map[string]map[string]interface{}),
		logger:        logger,
	}, nil
}

// Resolve computes the effective knob set for a call. Priority:
// default < baseline < global override < call-scoped override.
// It never fails and allocates one map per call.
func (r *Resolver) Resolve(callID string) map[string]interface{} {
	effective := Defaults()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for key, value := range r.baseline {
		effective[key] = value
	}
	for key, value := range r.overrides {
		effective[key] = value
	}
	if callID != "" {
		if scoped, ok := r.callOverrides[callID]; ok {
			for key, value := range scoped {
				effective[key] = value
			}
		}
	}

	return effective
}

// SetGlobal validates and applies a process-wide override. The override
// persists until Reset or ResetAll. Knobs not marked live-appliable may
// still be set; the restart requirement is a caller-level warning.
func (r *Resolver) SetGlobal(key string, value interface{}, source string) (ChangeResult, error) {
	if err := Validate(key, value); err != nil {
		return ChangeResult{}, err
	}

	if def := Catalog[key]; !def.LiveApply {
		r.logger.WithField("knob", key).Warn("Knob requires restart to take effect")
	}

	r.mu.Lock()
	old, ok := r.overrides[key]
	if !ok {
		if old, ok = r.baseline[key]; !ok {
			old = Catalog[key].Default
		}
	}
	r.overrides[key] = value
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"knob":   key,
		"old":    old,
		"new":    value,
		"source": source,
	}).Info("Global knob updated")

	return ChangeResult{
		Key:       key,
		OldValue:  old,
		NewValue:  value,
		Source:    source,
		Timestamp: time.Now(),
	}, nil
}

// SetCallScoped validates and applies an override visible only to one call.
// Call-scoped overrides are destroyed by ClearCall when the call ends.
func (r *Resolver) SetCallScoped(callID, key string, value interface{}, source string) (ChangeResult, error) {
	if err := Validate(key, value); err != nil {
		return ChangeResult{}, err
	}

	r.mu.Lock()
	scoped, ok := r.callOverrides[callID]
	if !ok {
		scoped = make(map[string]interface{})
		r.callOverrides[callID] = scoped
	}

	old, ok := scoped[key]
	if !ok {
		if old, ok = r.overrides[key]; !ok {
			if old, ok = r.baseline[key]; !ok {
				old = Catalog[key].Default
			}
		}
	}
	scoped[key] = value
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"knob":    key,
		"old":     old,
		"new":     value,
		"source":  source,
	}).Info("Call-scoped knob updated")

	return ChangeResult{
		CallID:    callID,
		Key:       key,
		OldValue:  old,
		NewValue:  value,
		Source:    source,
		Timestamp: time.Now(),
	}, nil
}

// ClearCall drops every override scoped to the given call. Invoked at call
// teardown.
func (r *Resolver) ClearCall(callID string) {
	r.mu.Lock()
	_, existed := r.callOverrides[callID]
	delete(r.callOverrides, callID)
	r.mu.Unlock()

	if existed {
		r.logger.WithField("call_id", callID).Debug("Cleared call-scoped knob overrides")
	}
}

// Reset removes a global override, restoring baseline/default resolution.
func (r *Resolver) Reset(key string) error {
	if _, ok := Catalog[key]; !ok {
		return errors.NewUnknownKnob(key)
	}

	r.mu.Lock()
	delete(r.overrides, key)
	r.mu.Unlock()

	r.logger.WithField("knob", key).Info("Knob override reset")
	return nil
}

// ResetAll removes every global and call-scoped override.
func (r *Resolver) ResetAll() {
	r.mu.Lock()
	r.overrides = make(map[string]interface{})
	r.callOverrides = make(map[string]map[string]interface{})
	r.mu.Unlock()

	r.logger.Info("All knob overrides reset")
}

// State returns a snapshot for debugging and the stats feed.
func (r *Resolver) State() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	global := make(map[string]interface{}, len(r.overrides))
	for key, value := range r.overrides {
		global[key] = value
	}

	return map[string]interface{}{
		"baseline":         r.baseline,
		"global_overrides": global,
		"call_overrides":   len(r.callOverrides),
	}
}
