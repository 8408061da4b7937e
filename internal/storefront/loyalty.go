package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

const loyaltyKeyPrefix = "loyalty.ledger/"

var errNoLoyaltyUser = errors.New("loyalty ledger: no signed-in user")

// LoyaltyEntry is one recorded point change.
type LoyaltyEntry struct {
	Delta    int    `json:"delta"`
	OrderRef string `json:"orderRef"`
}

type loyaltyState struct {
	Points  int            `json:"points"`
	Entries []LoyaltyEntry `json:"entries"`
}

// KV is the persistence behind the loyalty ledger.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// LoyaltyLedger keeps each shopper's loyalty point balance as last known to
// the client, stored per user id. Redemptions are recorded after an order
// succeeds, at most once per order reference; SetBalance overwrites the
// balance with the server figure. Guests read a zero balance and cannot
// write.
type LoyaltyLedger struct {
	kv     KV
	userID func() string
	mu     sync.Mutex
}

// NewLoyaltyLedger creates a ledger over kv for whichever user userID
// reports at call time.
func NewLoyaltyLedger(kv KV, userID func() string) *LoyaltyLedger {
	return &LoyaltyLedger{kv: kv, userID: userID}
}

// Balance returns the current balance.
func (l *LoyaltyLedger) Balance(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	return st.Points, nil
}

// Entries returns the recorded changes, oldest first.
func (l *LoyaltyLedger) Entries(ctx context.Context) ([]LoyaltyEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return st.Entries, nil
}

// SetBalance records the server-reported balance.
func (l *LoyaltyLedger) SetBalance(ctx context.Context, points int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	st.Points = points
	return l.save(ctx, st)
}

// AdjustPoints implements checkout.LoyaltyLedger. The balance never drops
// below zero. A change for an order reference already on record is ignored.
func (l *LoyaltyLedger) AdjustPoints(ctx context.Context, delta int, orderRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	if orderRef != "" && slices.ContainsFunc(st.Entries, func(e LoyaltyEntry) bool { return e.OrderRef == orderRef }) {
		return nil
	}
	st.Points = max(st.Points+delta, 0)
	st.Entries = append(st.Entries, LoyaltyEntry{Delta: delta, OrderRef: orderRef})
	return l.save(ctx, st)
}

func (l *LoyaltyLedger) key() string {
	if id := l.userID(); id != "" {
		return loyaltyKeyPrefix + id
	}
	return ""
}

func (l *LoyaltyLedger) load(ctx context.Context) (loyaltyState, error) {
	var st loyaltyState
	key := l.key()
	if key == "" {
		return st, nil
	}
	raw, ok, err := l.kv.Get(ctx, key)
	if err != nil {
		return st, fmt.Errorf("load loyalty ledger: %w", err)
	}
	if !ok {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode loyalty ledger: %w", err)
	}
	return st, nil
}

func (l *LoyaltyLedger) save(ctx context.Context, st loyaltyState) error {
	key := l.key()
	if key == "" {
		return errNoLoyaltyUser
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode loyalty ledger: %w", err)
	}
	if err := l.kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("save loyalty ledger: %w", err)
	}
	return nil
}
