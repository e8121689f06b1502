package modelpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager is the model pool. Each model lives in its own slot with its own
// lock, so checkouts of different already-loaded models never serialize on
// each other; the manager-level lock only guards budget accounting and
// eviction ordering.
//
// Lock ordering: mu before slot.mu, never the reverse.
type Manager struct {
	mu      sync.Mutex
	slots   map[string]*slot
	byClass map[Class][]string
	order   []string

	budgetMB int
	usedMB   int

	loader      Loader
	loadTimeout time.Duration
	loads       singleflight.Group
	logger      *zap.Logger
}

// slot holds one model's runtime state.
type slot struct {
	mu         sync.Mutex
	spec       Spec
	state      State
	reservedMB int
	refs       int
	lastUsed   time.Time
}

// Config configures the pool manager.
type Config struct {
	MemoryBudgetMB int
	LoadTimeout    time.Duration
	Models         []Spec
}

// NewManager creates a Manager. All models start Unloaded; nothing is loaded
// until the first checkout or an explicit EnsureLoaded.
func NewManager(loader Loader, cfg Config, logger *zap.Logger) *Manager {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 90 * time.Second
	}
	m := &Manager{
		slots:       make(map[string]*slot, len(cfg.Models)),
		byClass:     make(map[Class][]string),
		budgetMB:    cfg.MemoryBudgetMB,
		loader:      loader,
		loadTimeout: cfg.LoadTimeout,
		logger:      logger,
	}
	for _, spec := range cfg.Models {
		m.slots[spec.ID] = &slot{spec: spec, state: StateUnloaded}
		m.byClass[spec.Class] = append(m.byClass[spec.Class], spec.ID)
		m.order = append(m.order, spec.ID)
	}
	return m
}

// Checkout returns a handle to a Ready model of the requested class, loading
// one if necessary. Concurrent checkouts of the same not-yet-loaded model
// coalesce into a single load. Waiting longer than the load timeout returns
// ErrModelLoading, which the caller may retry.
func (m *Manager) Checkout(ctx context.Context, class Class) (*Handle, error) {
	id, err := m.pick(class)
	if err != nil {
		return nil, err
	}
	if err := m.ensureLoaded(ctx, id); err != nil {
		return nil, err
	}

	s := m.slots[id]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		// Lost a race with eviction between load and checkout.
		return nil, ErrModelLoading
	}
	s.refs++
	s.lastUsed = time.Now()
	return &Handle{
		modelID: id,
		class:   s.spec.Class,
		maxCtx:  s.spec.MaxContextTokens,
		slot:    s,
	}, nil
}

// Release returns a handle to the pool. Safe to call more than once.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.slot.mu.Lock()
		h.slot.refs--
		h.slot.lastUsed = time.Now()
		h.slot.mu.Unlock()
	})
}

// EnsureLoaded brings the model to Ready, coalescing with any in-flight load.
func (m *Manager) EnsureLoaded(ctx context.Context, modelID string) error {
	if _, ok := m.slots[modelID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return m.ensureLoaded(ctx, modelID)
}

// Evict unloads a model explicitly. Pinned and in-use models are refused.
func (m *Manager) Evict(ctx context.Context, modelID string) error {
	s, ok := m.slots[modelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spec.Pinned {
		return fmt.Errorf("%w: %s", ErrModelPinned, modelID)
	}
	if s.refs > 0 {
		return fmt.Errorf("%w: %s", ErrModelInUse, modelID)
	}
	if s.state != StateReady {
		return nil
	}
	m.unloadLocked(ctx, s)
	return nil
}

// State returns the lifecycle state of a model, StateUnloaded for unknown ids.
func (m *Manager) State(modelID string) State {
	s, ok := m.slots[modelID]
	if !ok {
		return StateUnloaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UsedMemoryMB reports the current budget charge, for observability.
func (m *Manager) UsedMemoryMB() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedMB
}

// pick chooses a model id for the class, preferring one that is already Ready.
func (m *Manager) pick(class Class) (string, error) {
	ids := m.byClass[class]
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoModelForClass, class)
	}
	for _, id := range ids {
		if m.State(id) == StateReady {
			return id, nil
		}
	}
	return ids[0], nil
}

// ensureLoaded waits for the model to become Ready, joining any load already
// in flight for the same id. The load itself runs detached from the waiter's
// context: one impatient caller must not cancel a load other callers wait on.
func (m *Manager) ensureLoaded(ctx context.Context, id string) error {
	s := m.slots[id]
	s.mu.Lock()
	if s.state == StateReady {
		s.lastUsed = time.Now()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ch := m.loads.DoChan(id, func() (any, error) {
		return nil, m.load(id)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-time.After(m.loadTimeout):
		return fmt.Errorf("%w: %s", ErrModelLoading, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load performs the actual state transition Unloaded/Error → Loading → Ready.
// On failure it retries exactly once with a halved memory reservation (the
// runtime may satisfy it with a quantized placement) before surfacing
// ErrModelLoadFailed.
func (m *Manager) load(id string) error {
	s := m.slots[id]

	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.mu.Unlock()

	reserve := s.spec.MemoryMB
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := m.reserve(reserve); err != nil {
			lastErr = err
		} else {
			lctx, cancel := context.WithTimeout(context.Background(), m.loadTimeout)
			err := m.loader.Load(lctx, id, reserve)
			cancel()
			if err == nil {
				s.mu.Lock()
				s.state = StateReady
				s.reservedMB = reserve
				s.lastUsed = time.Now()
				s.mu.Unlock()
				m.logger.Info("model loaded",
					zap.String("model", id),
					zap.Int("reserved_mb", reserve),
					zap.Int("attempt", attempt+1),
				)
				return nil
			}
			m.release(reserve)
			lastErr = err
		}

		s.mu.Lock()
		s.state = StateError
		s.mu.Unlock()
		m.logger.Warn("model load attempt failed",
			zap.String("model", id),
			zap.Int("reserved_mb", reserve),
			zap.Error(lastErr),
		)
		reserve /= 2
	}

	return fmt.Errorf("%w: %s: %v", ErrModelLoadFailed, id, lastErr)
}

// reserve charges the budget, evicting least-recently-used unpinned idle
// models until the reservation fits. Fails when it cannot fit even with
// everything evictable gone.
func (m *Manager) reserve(mb int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.usedMB+mb > m.budgetMB {
		victim := m.lruVictimLocked()
		if victim == nil {
			return fmt.Errorf("memory budget exhausted: need %d MB, used %d of %d MB and nothing evictable", mb, m.usedMB, m.budgetMB)
		}
		victim.mu.Lock()
		// Re-check under the slot lock: a checkout may have grabbed the
		// victim between selection and locking.
		if victim.state == StateReady && victim.refs == 0 && !victim.spec.Pinned {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.unloadLocked(ctx, victim)
			cancel()
		}
		victim.mu.Unlock()
	}
	m.usedMB += mb
	return nil
}

func (m *Manager) release(mb int) {
	m.mu.Lock()
	m.usedMB -= mb
	m.mu.Unlock()
}

// lruVictimLocked finds the least-recently-used Ready, unpinned, idle slot.
// Caller holds m.mu.
func (m *Manager) lruVictimLocked() *slot {
	var victim *slot
	for _, id := range m.order {
		s := m.slots[id]
		s.mu.Lock()
		eligible := s.state == StateReady && !s.spec.Pinned && s.refs == 0
		lastUsed := s.lastUsed
		s.mu.Unlock()
		if !eligible {
			continue
		}
		if victim == nil || lastUsed.Before(victim.lastUsed) {
			victim = s
		}
	}
	return victim
}

// unloadLocked transitions a slot Ready → Unloading → Unloaded and frees its
// budget charge. Caller holds m.mu and s.mu. Unload failures are logged and
// the budget freed anyway: the runtime reclaims memory on its own schedule
// and the pool must not wedge on a lost unload acknowledgement.
func (m *Manager) unloadLocked(ctx context.Context, s *slot) {
	s.state = StateUnloading
	if err := m.loader.Unload(ctx, s.spec.ID); err != nil {
		m.logger.Warn("model unload failed", zap.String("model", s.spec.ID), zap.Error(err))
	}
	m.usedMB -= s.reservedMB
	s.reservedMB = 0
	s.state = StateUnloaded
	m.logger.Info("model evicted", zap.String("model", s.spec.ID))
}
