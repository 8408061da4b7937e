package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
)

const localCartKey = "cart.local"

// DefaultMaxQuantity caps the quantity of a single line.
const DefaultMaxQuantity = 99

// Store is the key/value persistence behind the local cart.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// LocalStore is the guest cart. Mutations apply to memory synchronously, so
// two callers mutating in sequence always see each other's writes; the blob is
// persisted by a background writer that coalesces bursts of mutations.
type LocalStore struct {
	store  Store
	maxQty int
	logger *zap.Logger

	mu      sync.Mutex
	entries []LocalEntry

	// version counts mutations; written is the last version the writer
	// attempted. progress is closed and replaced after every write.
	version  uint64
	written  uint64
	writeErr error
	progress chan struct{}

	signal chan struct{}
	done   chan struct{}
	exited chan struct{}
	closed bool
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithMaxQuantity overrides the per-line quantity cap.
func WithMaxQuantity(n int) LocalOption {
	return func(s *LocalStore) {
		if n > 0 {
			s.maxQty = n
		}
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(l *zap.Logger) LocalOption {
	return func(s *LocalStore) { s.logger = logging.OrNop(l) }
}

// NewLocalStore creates an empty store and starts its writer. Call Load to
// hydrate and Close to stop the writer.
func NewLocalStore(store Store, opts ...LocalOption) *LocalStore {
	s := &LocalStore{
		store:    store,
		maxQty:   DefaultMaxQuantity,
		logger:   zap.NewNop(),
		progress: make(chan struct{}),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// MaxQuantity returns the per-line cap.
func (s *LocalStore) MaxQuantity() int {
	return s.maxQty
}

// Load replaces the in-memory cart with the persisted one. Unreadable blobs
// are discarded.
func (s *LocalStore) Load(ctx context.Context) error {
	raw, ok, err := s.store.Get(ctx, localCartKey)
	if err != nil {
		return fmt.Errorf("load local cart: %w", err)
	}

	var entries []LocalEntry
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			s.logger.Warn("discarding unreadable local cart", zap.Error(err))
			entries = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	for _, e := range entries {
		if e.ProductID == "" || e.Quantity <= 0 {
			continue
		}
		e.Quantity = s.clamp(e.Quantity)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Add merges entry into the cart. Quantities add up for an existing line and
// are clamped to the cap. Entries without a product or with a non-positive
// quantity are ignored.
func (s *LocalStore) Add(entry LocalEntry) {
	if entry.ProductID == "" || entry.Quantity <= 0 {
		return
	}
	key := entry.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(key); i >= 0 {
		cur := &s.entries[i]
		cur.Quantity = s.clamp(cur.Quantity + entry.Quantity)
		if entry.UnitPriceCents > 0 {
			cur.UnitPriceCents = entry.UnitPriceCents
		}
		if entry.Name != "" {
			cur.Name = entry.Name
		}
	} else {
		entry.Quantity = s.clamp(entry.Quantity)
		entry.Options = append([]Option(nil), entry.Options...)
		s.entries = append(s.entries, entry)
	}
	s.markDirty()
}

// SetQuantity sets the quantity of the line with key. A non-positive
// quantity removes the line. Returns false when no such line exists.
func (s *LocalStore) SetQuantity(key string, qty int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	if qty <= 0 {
		s.removeAt(i)
	} else {
		s.entries[i].Quantity = s.clamp(qty)
	}
	s.markDirty()
	return true
}

// Remove deletes the line with key. Returns false when no such line exists.
func (s *LocalStore) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	s.markDirty()
	return true
}

// Clear empties the cart.
func (s *LocalStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.markDirty()
}

// Entries returns a copy of the lines in insertion order.
func (s *LocalStore) Entries() []LocalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocalEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of lines.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot renders the lines as preview items, in insertion order.
func (s *LocalStore) Snapshot() []PreviewItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]PreviewItem, 0, len(s.entries))
	for _, e := range s.entries {
		items = append(items, PreviewItem{
			Key:            e.Key(),
			ProductID:      e.ProductID,
			Name:           e.Name,
			Quantity:       e.Quantity,
			UnitPriceCents: e.UnitPriceCents,
			LineTotalCents: e.UnitPriceCents * int64(e.Quantity),
			BranchID:       e.BranchID,
			Options:        append([]Option(nil), e.Options...),
		})
	}
	return items
}

// Flush waits until every mutation made before the call has been written.
// It returns the error of the latest write, if any.
func (s *LocalStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	target := s.version
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.written >= target {
			err := s.writeErr
			s.mu.Unlock()
			return err
		}
		if s.closed {
			s.mu.Unlock()
			return errors.New("local cart closed with unwritten changes")
		}
		progress := s.progress
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-progress:
		}
	}
}

// Close writes pending mutations and stops the writer.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	<-s.exited
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

func (s *LocalStore) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.signal:
			s.write()
		case <-s.done:
			s.write()
			return
		}
	}
}

// write persists the current snapshot if it is newer than the last write.
func (s *LocalStore) write() {
	s.mu.Lock()
	if s.written >= s.version {
		s.mu.Unlock()
		return
	}
	v := s.version
	raw, err := json.Marshal(s.entries)
	s.mu.Unlock()

	if err == nil {
		err = s.store.Put(context.Background(), localCartKey, raw)
	}
	if err != nil {
		s.logger.Warn("persist local cart", zap.Error(err))
	}

	s.mu.Lock()
	s.written = v
	s.writeErr = err
	close(s.progress)
	s.progress = make(chan struct{})
	s.mu.Unlock()
}

// markDirty must be called with s.mu held.
func (s *LocalStore) markDirty() {
	s.version++
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *LocalStore) indexOf(key string) int {
	for i, e := range s.entries {
		if e.Key() == key {
			return i
		}
	}
	return -1
}

func (s *LocalStore) removeAt(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}

func (s *LocalStore) clamp(qty int) int {
	if qty > s.maxQty {
		return s.maxQty
	}
	return qty
}
