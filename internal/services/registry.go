package services

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"visionrelay/internal/services/ai"
)

// NamedDetector pairs a registry key with a loaded model.
type NamedDetector struct {
	Name     string
	Detector ai.Detector
}

// Registry is the fixed set of loaded models plus the selection used for inference.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	detectors map[string]ai.Detector
	current   string
}

// NewRegistry builds a registry from models, in order. An empty defaultModel
// selects the first entry. The registry owns entries: when it cannot be built
// they are closed before the error is returned.
func NewRegistry(defaultModel string, entries []NamedDetector) (*Registry, error) {
	r, err := newRegistry(defaultModel, entries)
	if err != nil {
		return nil, multierr.Append(err, CloseDetectors(entries))
	}
	return r, nil
}

// CloseDetectors releases every non-nil detector in entries.
func CloseDetectors(entries []NamedDetector) error {
	var err error
	for _, e := range entries {
		if e.Detector != nil {
			err = multierr.Append(err, errors.Wrapf(e.Detector.Close(), "closing %s", e.Name))
		}
	}
	return err
}

func newRegistry(defaultModel string, entries []NamedDetector) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errors.New("model registry needs at least one model")
	}

	r := &Registry{detectors: make(map[string]ai.Detector, len(entries))}
	for _, e := range entries {
		if e.Detector == nil {
			return nil, errors.Errorf("model %q has no detector", e.Name)
		}
		if _, dup := r.detectors[e.Name]; dup {
			return nil, errors.Errorf("duplicate model name %q", e.Name)
		}
		r.names = append(r.names, e.Name)
		r.detectors[e.Name] = e.Detector
	}

	if defaultModel == "" {
		defaultModel = r.names[0]
	}
	if _, ok := r.detectors[defaultModel]; !ok {
		return nil, errors.Errorf("default model %q is not registered", defaultModel)
	}
	r.current = defaultModel
	return r, nil
}

// Names returns the registry keys in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Current returns the selected model name and its detector.
func (r *Registry) Current() (string, ai.Detector) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.detectors[r.current]
}

// Select makes name the current model. Unknown names leave the selection untouched.
func (r *Registry) Select(name string) error {
	if _, ok := r.detectors[name]; !ok {
		return errors.Wrapf(ErrInvalidModel, "%q", name)
	}
	r.mu.Lock()
	r.current = name
	r.mu.Unlock()
	return nil
}

// Close releases every detector.
func (r *Registry) Close() error {
	var err error
	for _, name := range r.names {
		err = multierr.Append(err, errors.Wrapf(r.detectors[name].Close(), "closing %s", name))
	}
	return err
}
