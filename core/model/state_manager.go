// Package model provides estimator state, capability interfaces and
// persistence helpers shared by every estimator in the module.
package model

import (
	"sync"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// StateManager manages the fitted state of an estimator in a thread-safe manner.
// Estimators hold it by composition instead of embedding a base type.
type StateManager struct {
	Fitted bool // Public for gob encoding
	mu     sync.RWMutex

	// Optional metadata - Public for gob encoding
	NFeatures    int
	NSamples     int
	FeatureNames []string
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the estimator has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted marks the estimator as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// Reset resets the fitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.NFeatures = 0
	s.NSamples = 0
	s.FeatureNames = nil
}

// SetDimensions sets the number of features and samples seen during fitting.
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// GetDimensions returns the number of features and samples seen during fitting.
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures, s.NSamples
}

// SetFeatureNames records the column names seen during fitting.
func (s *StateManager) SetFeatureNames(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FeatureNames = append([]string(nil), names...)
}

// GetFeatureNames returns a copy of the column names seen during fitting.
func (s *StateManager) GetFeatureNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.FeatureNames...)
}

// RequireFitted returns a NotFittedError naming the estimator and method
// when the estimator has not been fitted.
func (s *StateManager) RequireFitted(estimator, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(estimator, method)
	}
	return nil
}

// RequireFeatures checks that X has the number of columns seen during fitting.
func (s *StateManager) RequireFeatures(op string, nCols int) error {
	nFeatures, _ := s.GetDimensions()
	if nFeatures != nCols {
		return errors.NewDimensionError(op, nFeatures, nCols, 1)
	}
	return nil
}

// ModelState represents the complete state of an estimator.
// This can be used for serialization and debugging.
type ModelState struct {
	Fitted       bool                   `json:"fitted"`
	NFeatures    int                    `json:"n_features,omitempty"`
	NSamples     int                    `json:"n_samples,omitempty"`
	FeatureNames []string               `json:"feature_names,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
}

// GetState returns the current state as a ModelState struct.
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ModelState{
		Fitted:       s.Fitted,
		NFeatures:    s.NFeatures,
		NSamples:     s.NSamples,
		FeatureNames: append([]string(nil), s.FeatureNames...),
	}
}

// SetState sets the state from a ModelState struct.
func (s *StateManager) SetState(state ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Fitted = state.Fitted
	s.NFeatures = state.NFeatures
	s.NSamples = state.NSamples
	s.FeatureNames = append([]string(nil), state.FeatureNames...)
}
