package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

// MemStore is a thread-safe in-memory canvas and principal store. With a
// Persistence attached, every mutation is written to disk in the background.
type MemStore struct {
	mu         sync.RWMutex
	canvases   map[string]*schema.Canvas
	principals map[string]schema.Principal
	byEmail    map[string]string
	persister  *Persistence
	wg         sync.WaitGroup
	now        func() time.Time

	// revision is guarded by mu, flushed by persistMu. A background write
	// older than the last one flushed for the same canvas is dropped.
	revision  map[string]uint64
	persistMu sync.Mutex
	flushed   map[string]uint64
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and a persister, either of which may be nil.
func NewMemStore(principals []schema.Principal, canvases map[string]*schema.Canvas, p *Persistence) *MemStore {
	if canvases == nil {
		canvases = make(map[string]*schema.Canvas)
	}
	m := &MemStore{
		canvases:   canvases,
		principals: make(map[string]schema.Principal),
		byEmail:    make(map[string]string),
		persister:  p,
		now:        time.Now,
		revision:   make(map[string]uint64),
		flushed:    make(map[string]uint64),
	}
	for _, pr := range principals {
		m.principals[pr.ID] = pr
		m.byEmail[schema.NormalizeEmail(pr.Email)] = pr.ID
	}
	return m
}

// OpenFileStore loads dataDir and returns a MemStore persisting into it.
// A non-nil key seals canvas documents at rest.
func OpenFileStore(dataDir string, key []byte) (*MemStore, error) {
	p, err := NewPersistence(dataDir, key)
	if err != nil {
		return nil, err
	}
	principals, canvases, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	return NewMemStore(principals, canvases, p), nil
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close flushes pending writes.
func (m *MemStore) Close() error {
	m.Wait()
	return nil
}

func (m *MemStore) Create(_ context.Context, ownerID, name string) (*schema.Canvas, error) {
	now := m.now().UTC()
	canvas := &schema.Canvas{
		ID:         uuid.NewString(),
		Owner:      ownerID,
		Name:       name,
		Elements:   []schema.Element{},
		SharedWith: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.canvases[canvas.ID] = canvas
	snapshot, rev := m.snapshotLocked(canvas.ID)
	m.mu.Unlock()

	m.persistCanvas(snapshot.ID, snapshot, rev)
	return canvas.Clone(), nil
}

func (m *MemStore) Load(_ context.Context, canvasID string) (*schema.Canvas, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	canvas, ok := m.canvases[canvasID]
	if !ok {
		return nil, engine.ErrCanvasNotFound
	}
	return canvas.Clone(), nil
}

func (m *MemStore) Save(_ context.Context, canvas *schema.Canvas) error {
	m.mu.Lock()
	current, ok := m.canvases[canvas.ID]
	if !ok {
		m.mu.Unlock()
		return engine.ErrCanvasNotFound
	}
	next := canvas.Clone()
	next.Owner = current.Owner
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = m.now().UTC()
	m.canvases[canvas.ID] = next
	snapshot, rev := m.snapshotLocked(canvas.ID)
	m.mu.Unlock()

	m.persistCanvas(snapshot.ID, snapshot, rev)
	return nil
}

func (m *MemStore) SaveElements(_ context.Context, canvasID string, elements []schema.Element) error {
	m.mu.Lock()
	current, ok := m.canvases[canvasID]
	if !ok {
		m.mu.Unlock()
		return engine.ErrCanvasNotFound
	}
	current.Elements = schema.CloneElements(elements)
	current.UpdatedAt = m.now().UTC()
	snapshot, rev := m.snapshotLocked(canvasID)
	m.mu.Unlock()

	m.persistCanvas(snapshot.ID, snapshot, rev)
	return nil
}

func (m *MemStore) PutCanvas(_ context.Context, canvas *schema.Canvas) error {
	m.mu.Lock()
	m.canvases[canvas.ID] = canvas.Clone()
	snapshot, rev := m.snapshotLocked(canvas.ID)
	m.mu.Unlock()

	m.persistCanvas(snapshot.ID, snapshot, rev)
	return nil
}

func (m *MemStore) Delete(_ context.Context, canvasID string) error {
	m.mu.Lock()
	if _, ok := m.canvases[canvasID]; !ok {
		m.mu.Unlock()
		return engine.ErrCanvasNotFound
	}
	delete(m.canvases, canvasID)
	_, rev := m.snapshotLocked(canvasID)
	m.mu.Unlock()

	m.persistCanvas(canvasID, nil, rev)
	return nil
}

func (m *MemStore) ListAccessible(_ context.Context, principalID string) ([]*schema.Canvas, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []*schema.Canvas{}
	for _, c := range m.canvases {
		if c.Owner == principalID || c.IsSharedWith(principalID) {
			list = append(list, c.Clone())
		}
	}
	sortCanvases(list)
	return list, nil
}

func (m *MemStore) Canvases(_ context.Context) ([]*schema.Canvas, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*schema.Canvas, 0, len(m.canvases))
	for _, c := range m.canvases {
		list = append(list, c.Clone())
	}
	sortCanvases(list)
	return list, nil
}

func (m *MemStore) PutPrincipal(_ context.Context, p schema.Principal) (schema.Principal, error) {
	p.Email = schema.NormalizeEmail(p.Email)
	if p.Email == "" {
		return schema.Principal{}, engine.NewError(engine.KindValidation, "email is required")
	}

	m.mu.Lock()
	if existing, ok := m.byEmail[p.Email]; ok && existing != p.ID {
		m.mu.Unlock()
		return schema.Principal{}, engine.ErrPrincipalExists
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}
	if previous, ok := m.principals[p.ID]; ok {
		delete(m.byEmail, previous.Email)
	}
	m.principals[p.ID] = p
	m.byEmail[p.Email] = p.ID
	m.mu.Unlock()

	if m.persister != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.persistMu.Lock()
			defer m.persistMu.Unlock()
			// Always write the latest list so reordered goroutines cannot regress it.
			m.mu.RLock()
			list := m.principalListLocked()
			m.mu.RUnlock()
			if err := m.persister.SavePrincipals(list); err != nil {
				slog.Error("failed to persist principals", "err", err)
			}
		}()
	}
	return p, nil
}

func (m *MemStore) PrincipalByID(_ context.Context, id string) (schema.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[id]
	if !ok {
		return schema.Principal{}, engine.ErrPrincipalNotFound
	}
	return p, nil
}

func (m *MemStore) PrincipalByEmail(_ context.Context, email string) (schema.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[schema.NormalizeEmail(email)]
	if !ok {
		return schema.Principal{}, engine.ErrPrincipalNotFound
	}
	return m.principals[id], nil
}

func (m *MemStore) Principals(_ context.Context) ([]schema.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.principalListLocked(), nil
}

func (m *MemStore) principalListLocked() []schema.Principal {
	list := make([]schema.Principal, 0, len(m.principals))
	for _, p := range m.principals {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Email < list[j].Email })
	return list
}

// snapshotLocked deep-copies a canvas and bumps its revision.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) snapshotLocked(canvasID string) (*schema.Canvas, uint64) {
	m.revision[canvasID]++
	rev := m.revision[canvasID]

	c, ok := m.canvases[canvasID]
	if !ok {
		return nil, rev
	}
	return c.Clone(), rev
}

// persistCanvas writes canvas in the background, or deletes the document when canvas is nil.
func (m *MemStore) persistCanvas(canvasID string, canvas *schema.Canvas, rev uint64) {
	if m.persister == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.persistMu.Lock()
		defer m.persistMu.Unlock()
		if m.flushed[canvasID] > rev {
			return
		}
		m.flushed[canvasID] = rev

		var err error
		if canvas == nil {
			err = m.persister.DeleteCanvas(canvasID)
		} else {
			err = m.persister.SaveCanvas(canvas)
		}
		if err != nil {
			slog.Error("failed to persist canvas", "canvas", canvasID, "err", err)
		}
	}()
}

func sortCanvases(list []*schema.Canvas) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return strings.Compare(list[i].ID, list[j].ID) < 0
	})
}
