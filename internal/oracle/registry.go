package oracle

import (
	"fmt"

	"github.com/whetherfun/weathermark/internal/domain"
)

// Registry mutation is owner-gated. Removal deactivates rather than deletes,
// so historical readings and votes keep a resolvable identity.

// AddReporter registers a reporter or reactivates a removed one.
func (e *Engine) AddReporter(caller, address, name string) (domain.Reporter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return domain.Reporter{}, fmt.Errorf("oracle: add reporter: caller %q is not owner: %w", caller, domain.ErrUnauthorized)
	}
	if address == "" {
		return domain.Reporter{}, fmt.Errorf("oracle: add reporter: empty address: %w", domain.ErrValidation)
	}
	if r, ok := e.reporters[address]; ok && r.Active {
		return domain.Reporter{}, fmt.Errorf("oracle: reporter %q: %w", address, domain.ErrAlreadyExists)
	}

	r := domain.Reporter{
		Address: address,
		Name:    name,
		Active:  true,
		AddedAt: e.nowFn(),
	}
	e.reporters[address] = r
	return r, nil
}

// RemoveReporter deactivates a reporter. Its past readings remain.
func (e *Engine) RemoveReporter(caller, address string) (domain.Reporter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return domain.Reporter{}, fmt.Errorf("oracle: remove reporter: caller %q is not owner: %w", caller, domain.ErrUnauthorized)
	}
	r, ok := e.reporters[address]
	if !ok {
		return domain.Reporter{}, fmt.Errorf("oracle: reporter %q: %w", address, domain.ErrNotFound)
	}
	r.Active = false
	e.reporters[address] = r
	return r, nil
}

// IsReporter reports whether the address is an active registered reporter.
func (e *Engine) IsReporter(address string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.reporters[address]
	return ok && r.Active
}

// AddArbitrator registers an arbitrator with the given voting weight.
func (e *Engine) AddArbitrator(caller, address, name string, weight int64) (domain.Arbitrator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return domain.Arbitrator{}, fmt.Errorf("oracle: add arbitrator: caller %q is not owner: %w", caller, domain.ErrUnauthorized)
	}
	if address == "" {
		return domain.Arbitrator{}, fmt.Errorf("oracle: add arbitrator: empty address: %w", domain.ErrValidation)
	}
	if weight <= 0 {
		return domain.Arbitrator{}, fmt.Errorf("oracle: add arbitrator: weight must be positive, got %d: %w", weight, domain.ErrValidation)
	}
	if a, ok := e.arbitrators[address]; ok && a.Active {
		return domain.Arbitrator{}, fmt.Errorf("oracle: arbitrator %q: %w", address, domain.ErrAlreadyExists)
	}

	a := domain.Arbitrator{
		Address: address,
		Name:    name,
		Weight:  weight,
		Active:  true,
		AddedAt: e.nowFn(),
	}
	if prev, ok := e.arbitrators[address]; ok {
		a.DisputesResolved = prev.DisputesResolved
	}
	e.arbitrators[address] = a
	return a, nil
}

// RemoveArbitrator deactivates an arbitrator.
func (e *Engine) RemoveArbitrator(caller, address string) (domain.Arbitrator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return domain.Arbitrator{}, fmt.Errorf("oracle: remove arbitrator: caller %q is not owner: %w", caller, domain.ErrUnauthorized)
	}
	a, ok := e.arbitrators[address]
	if !ok {
		return domain.Arbitrator{}, fmt.Errorf("oracle: arbitrator %q: %w", address, domain.ErrNotFound)
	}
	a.Active = false
	e.arbitrators[address] = a
	return a, nil
}

// GetArbitrator returns the arbitrator record for the address.
func (e *Engine) GetArbitrator(address string) (domain.Arbitrator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.arbitrators[address]
	if !ok {
		return domain.Arbitrator{}, fmt.Errorf("oracle: arbitrator %q: %w", address, domain.ErrNotFound)
	}
	return a, nil
}

// IsArbitrator reports whether the address is an active arbitrator.
func (e *Engine) IsArbitrator(address string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.arbitrators[address]
	return ok && a.Active
}
