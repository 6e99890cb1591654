package rm

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/iklop007/galaxytx/pkg/store"
)

// TCCFunc is a confirm or cancel callback registered for a resourceId. It
// is stored as a bare interface{} and invoked by reflection because the
// four signature shapes the spec allows — (), (xid), (xid, branchId),
// (branch) — are not expressible as a single Go func type.
type TCCFunc interface{}

// ServiceLocator resolves a TCC service by naming convention when no
// explicit registration exists, replacing annotation-based discovery
// (Go has no runtime annotations) with an injected lookup.
type ServiceLocator interface {
	// LookupByName returns the confirm and cancel callables for
	// resourceId using a convention such as "<resourceId>Service",
	// "<resourceId>ServiceImpl" with "confirm"/"commit"/"execute" and
	// "cancel"/"rollback"/"compensate" methods. ok is false when nothing
	// matches.
	LookupByName(resourceID string) (confirm, cancel TCCFunc, ok bool)
}

// markerState is which of {tried, confirmed, cancelled} has been recorded
// for a (xid, branchId) pair.
type markerState struct {
	tried              bool
	confirmed          bool
	cancelled          bool
	cancelledWithoutTry bool
}

// TCCRegistry holds explicit confirm/cancel registrations and idempotency
// markers, and drives reflective invocation of the registered callbacks.
type TCCRegistry struct {
	mu       sync.RWMutex
	services map[string]tccService
	locator  ServiceLocator
	markers  map[string]*markerState // key: xid + "/" + branchId
}

type tccService struct {
	confirm TCCFunc
	cancel  TCCFunc
}

// NewTCCRegistry builds an empty registry. locator may be nil.
func NewTCCRegistry(locator ServiceLocator) *TCCRegistry {
	return &TCCRegistry{
		services: make(map[string]tccService),
		locator:  locator,
		markers:  make(map[string]*markerState),
	}
}

// Register explicitly binds confirm/cancel callbacks to resourceId —
// the Go analogue of an @TCCService annotation.
func (r *TCCRegistry) Register(resourceID string, confirm, cancel TCCFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[resourceID] = tccService{confirm: confirm, cancel: cancel}
}

func (r *TCCRegistry) resolve(resourceID string) (confirm, cancel TCCFunc, ok bool) {
	r.mu.RLock()
	svc, exists := r.services[resourceID]
	r.mu.RUnlock()
	if exists {
		return svc.confirm, svc.cancel, true
	}
	if r.locator != nil {
		return r.locator.LookupByName(resourceID)
	}
	return nil, nil, false
}

func (r *TCCRegistry) markerKey(xid string, branchID int64) string {
	return fmt.Sprintf("%s/%d", xid, branchID)
}

func (r *TCCRegistry) marker(xid string, branchID int64) *markerState {
	key := r.markerKey(xid, branchID)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markers[key]
	if !ok {
		m = &markerState{}
		r.markers[key] = m
	}
	return m
}

// TryAllowed reports whether a late-arriving Try for (xid, branchId) may
// proceed. It is rejected ("anti-hanging") if a cancel-without-try marker
// already exists.
func (r *TCCRegistry) TryAllowed(xid string, branchID int64) bool {
	m := r.marker(xid, branchID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.cancelledWithoutTry {
		return false
	}
	m.tried = true
	return true
}

// TCCHandler implements rm.Handler for TCC branches: Commit reflectively
// invokes the registered confirm method, Rollback invokes cancel. Both
// are idempotent and anti-suspension safe per the marker state.
type TCCHandler struct {
	registry *TCCRegistry
}

// NewTCCHandler builds the TCC rm.Handler over registry.
func NewTCCHandler(registry *TCCRegistry) *TCCHandler {
	return &TCCHandler{registry: registry}
}

func (h *TCCHandler) Commit(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	m := h.registry.marker(b.XID, b.BranchID)
	h.registry.mu.RLock()
	alreadyConfirmed := m.confirmed
	h.registry.mu.RUnlock()
	if alreadyConfirmed {
		return CommunicationResult{Status: Success}
	}

	confirm, _, ok := h.registry.resolve(b.ResourceID)
	if !ok || confirm == nil {
		return CommunicationResult{Status: ResourceError, Err: fmt.Errorf("rm/tcc: no confirm method registered for %q", b.ResourceID)}
	}

	if _, err := invokeTCC(confirm, b); err != nil {
		return CommunicationResult{Status: RetryableError, Err: err}
	}

	h.registry.mu.Lock()
	m.confirmed = true
	h.registry.mu.Unlock()
	return CommunicationResult{Status: Success}
}

func (h *TCCHandler) Rollback(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	m := h.registry.marker(b.XID, b.BranchID)
	h.registry.mu.RLock()
	alreadyCancelled := m.cancelled
	h.registry.mu.RUnlock()
	if alreadyCancelled {
		return CommunicationResult{Status: Success}
	}

	_, cancel, ok := h.registry.resolve(b.ResourceID)
	if !ok || cancel == nil {
		return CommunicationResult{Status: ResourceError, Err: fmt.Errorf("rm/tcc: no cancel method registered for %q", b.ResourceID)}
	}

	if _, err := invokeTCC(cancel, b); err != nil {
		return CommunicationResult{Status: RetryableError, Err: err}
	}

	h.registry.mu.Lock()
	m.cancelled = true
	if !m.tried {
		// Cancel arrived before (or without) a Try: success, with a
		// marker that blocks any later-arriving Try for this branch.
		m.cancelledWithoutTry = true
	}
	h.registry.mu.Unlock()
	return CommunicationResult{Status: Success}
}

// invokeTCC calls fn with whichever of the four accepted signatures its
// reflect.Type declares: (), (xid string), (xid string, branchId int64),
// or (branch *store.BranchTransaction).
func invokeTCC(fn TCCFunc, b *store.BranchTransaction) ([]reflect.Value, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("rm/tcc: registered value for resourceId %q is not a function", b.ResourceID)
	}
	ft := fv.Type()

	var args []reflect.Value
	switch ft.NumIn() {
	case 0:
		args = nil
	case 1:
		if ft.In(0) == reflect.TypeOf((*store.BranchTransaction)(nil)) {
			args = []reflect.Value{reflect.ValueOf(b)}
		} else {
			args = []reflect.Value{reflect.ValueOf(b.XID)}
		}
	case 2:
		args = []reflect.Value{reflect.ValueOf(b.XID), reflect.ValueOf(b.BranchID)}
	default:
		return nil, fmt.Errorf("rm/tcc: unsupported signature with %d parameters", ft.NumIn())
	}

	results := fv.Call(args)
	for _, r := range results {
		if err, ok := r.Interface().(error); ok && err != nil {
			return results, err
		}
		if r.Kind() == reflect.Bool && !r.Bool() {
			return results, fmt.Errorf("rm/tcc: %s returned false", b.ResourceID)
		}
	}
	return results, nil
}
