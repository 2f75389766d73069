package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

// SaveErrorsKey is the save response member carrying one message per
// setting that failed to save.
const SaveErrorsKey = "customize_rest_resources_save_errors"

// SaveResult is merged into the editor's save response.
type SaveResult struct {
	Saved    map[resource.ID]resource.Resource       `json:"saved"`
	Errors   map[resource.ID]string                  `json:"customize_rest_resources_save_errors,omitempty"`
	Validity map[resource.ID][]validation.FieldError `json:"validity,omitempty"`
}

// OK reports whether every setting saved.
func (r *SaveResult) OK() bool {
	return len(r.Errors) == 0
}

func newSaveResult() *SaveResult {
	return &SaveResult{
		Saved:    make(map[resource.ID]resource.Resource),
		Errors:   make(map[resource.ID]string),
		Validity: make(map[resource.ID][]validation.FieldError),
	}
}

func (r *SaveResult) fail(id resource.ID, err error) {
	var vr *validation.Result
	if errors.As(err, &vr) {
		r.Errors[id] = vr.Summary()
		r.Validity[id] = vr.Errors
		return
	}
	var ce *CommitError
	if errors.As(err, &ce) {
		r.Errors[id] = ce.Message
		return
	}
	r.Errors[id] = err.Error()
}

// SaveDeps contains dependencies for SaveService.
type SaveDeps struct {
	Dispatcher ports.Dispatcher
	Clock      ports.Clock
	Logger     zerolog.Logger
}

// SaveConfig contains configuration for SaveService.
type SaveConfig struct {
	// Strict runs validate callables as well as sanitize callables on save.
	Strict bool
}

// SaveService commits staged resource settings through the REST layer.
type SaveService struct {
	dispatcher ports.Dispatcher
	clock      ports.Clock
	logger     zerolog.Logger

	// Dynamic configuration (hot-reloadable)
	cfg atomic.Pointer[SaveConfig]

	mu       sync.Mutex
	adapters map[resource.ID]*SettingAdapter
}

// NewSaveService creates a new save service.
func NewSaveService(deps SaveDeps, cfg SaveConfig) (*SaveService, error) {
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("%w: clock", ErrMissingDependency)
	}
	s := &SaveService{
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger,
		adapters:   make(map[resource.ID]*SettingAdapter),
	}
	s.UpdateConfig(cfg)
	return s, nil
}

// UpdateConfig replaces the hot-reloadable configuration.
func (s *SaveService) UpdateConfig(cfg SaveConfig) {
	s.cfg.Store(&cfg)
}

// Adapter returns the adapter of id, creating it on first use.
func (s *SaveService) Adapter(id resource.ID) (*SettingAdapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.adapters[id]; ok {
		return a, nil
	}
	a, err := NewSettingAdapter(id, AdapterDeps{Dispatcher: s.dispatcher, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	s.adapters[id] = a
	return a, nil
}

// Save sanitizes and commits every staged setting in id order. A failing
// setting is reported in the result and does not stop the others.
func (s *SaveService) Save(ctx context.Context, staged *Overrides) (*SaveResult, error) {
	return s.run(ctx, staged, true)
}

// Validate sanitizes and validates every staged setting without committing.
// Validation is always strict here.
func (s *SaveService) Validate(ctx context.Context, staged *Overrides) (*SaveResult, error) {
	return s.run(ctx, staged, false)
}

func (s *SaveService) run(ctx context.Context, staged *Overrides, commit bool) (*SaveResult, error) {
	if staged == nil {
		return newSaveResult(), nil
	}
	if OverridesFrom(ctx) == nil {
		ctx = WithOverrides(ctx, staged)
	}
	strict := !commit || s.cfg.Load().Strict
	start := s.clock.Now()
	result := newSaveResult()

	for _, id := range staged.IDs() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		value, _ := staged.Lookup(id.Route())

		a, err := s.Adapter(id)
		if err != nil {
			result.fail(id, err)
			continue
		}
		a.Preview(ctx, value)

		clean, err := a.Sanitize(ctx, value, strict)
		if err != nil {
			result.fail(id, err)
			continue
		}
		if !commit {
			continue
		}
		saved, err := a.Commit(ctx, clean)
		if err != nil {
			result.fail(id, err)
			continue
		}
		result.Saved[id] = saved
	}

	s.logger.Info().
		Bool("commit", commit).
		Int("settings", staged.Len()).
		Int("saved", len(result.Saved)).
		Int("failed", len(result.Errors)).
		Dur("duration", s.clock.Now().Sub(start)).
		Msg("resource settings processed")
	return result, nil
}
