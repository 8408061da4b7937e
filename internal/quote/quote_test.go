package quote

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
)

// gatedBackend answers each address only once its gate is opened.
type gatedBackend struct {
	mu       sync.Mutex
	gates    map[string]chan struct{}
	fail     map[string]error
	requests []Request
	arrived  chan string
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		gates:   make(map[string]chan struct{}),
		fail:    make(map[string]error),
		arrived: make(chan string, 16),
	}
}

func (b *gatedBackend) gate(address string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gates[address]
	if !ok {
		g = make(chan struct{})
		b.gates[address] = g
	}
	return g
}

func (b *gatedBackend) open(address string) {
	close(b.gate(address))
}

func (b *gatedBackend) GuestQuote(ctx context.Context, req Request) (*Quote, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	err := b.fail[req.Address]
	b.mu.Unlock()

	b.arrived <- req.Address
	select {
	case <-b.gate(req.Address):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &Quote{
		Groups:           []GroupQuote{{BranchID: "b1", SubtotalCents: 1000, ShippingFeeCents: int64(len(req.Address)) * 10}},
		SubtotalCents:    1000,
		ShippingFeeCents: int64(len(req.Address)) * 10,
		SkippedBranchIDs: []string{},
	}, nil
}

func (b *gatedBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func input(address string) Input {
	return Input{Address: address, Items: []Item{{ProductID: "p1", Quantity: 2}}}
}

func TestEngine_FetchAppliesResult(t *testing.T) {
	backend := newGatedBackend()
	backend.open("Cairo")
	e := NewEngine(backend)
	defer e.Close()

	q, err := e.Fetch(context.Background(), input("  Cairo "))
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, int64(1050), q.TotalCents())

	st := e.State()
	assert.Same(t, q, st.Quote)
	assert.False(t, st.Loading)
	assert.Equal(t, int64(1), st.Seq)
	assert.Equal(t, "Cairo", backend.requests[0].Address)
}

func TestEngine_StaleResponseIsDiscarded(t *testing.T) {
	backend := newGatedBackend()
	m := metrics.NewCollector()
	e := NewEngine(backend, WithMetrics(m))
	defer e.Close()
	ctx := context.Background()

	errA := make(chan error, 1)
	go func() {
		_, err := e.Fetch(ctx, input("Address A"))
		errA <- err
	}()
	require.Equal(t, "Address A", <-backend.arrived)

	errB := make(chan error, 1)
	go func() {
		_, err := e.Fetch(ctx, input("Address B is longer"))
		errB <- err
	}()
	require.Equal(t, "Address B is longer", <-backend.arrived)

	// B completes first, then the slower A.
	backend.open("Address B is longer")
	require.NoError(t, <-errB)
	backend.open("Address A")
	err := <-errA
	require.ErrorIs(t, err, apierr.ErrRaceDiscarded)
	assert.Equal(t, apierr.KindRaceDiscarded, apierr.KindOf(err))
	assert.Empty(t, apierr.UserMessage(err, "en"))

	st := e.State()
	require.NotNil(t, st.Quote)
	assert.Equal(t, int64(190), st.Quote.ShippingFeeCents)
	assert.Equal(t, int64(2), st.Seq)
	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), "fasket_quote_discarded_total 1")
}

func TestEngine_LatestFailureClearsQuote(t *testing.T) {
	backend := newGatedBackend()
	backend.open("Giza")
	backend.open("Nowhere")
	backend.fail["Nowhere"] = &apierr.Error{Kind: apierr.KindServer, Status: 422, Code: "DELIVERY_ZONE_UNAVAILABLE"}
	e := NewEngine(backend)
	defer e.Close()
	ctx := context.Background()

	_, err := e.Fetch(ctx, input("Giza"))
	require.NoError(t, err)
	require.NotNil(t, e.State().Quote)

	_, err = e.Fetch(ctx, input("Nowhere"))
	require.Error(t, err)

	st := e.State()
	assert.Nil(t, st.Quote)
	assert.True(t, apierr.IsKind(st.Err, apierr.KindServer))
}

func TestEngine_StaleFailureKeepsQuote(t *testing.T) {
	backend := newGatedBackend()
	backend.fail["Slow"] = errors.New("boom")
	e := NewEngine(backend)
	defer e.Close()
	ctx := context.Background()

	errSlow := make(chan error, 1)
	go func() {
		_, err := e.Fetch(ctx, input("Slow"))
		errSlow <- err
	}()
	<-backend.arrived

	backend.open("Fast")
	_, err := e.Fetch(ctx, input("Fast"))
	<-backend.arrived
	require.NoError(t, err)

	backend.open("Slow")
	require.ErrorIs(t, <-errSlow, apierr.ErrRaceDiscarded)

	st := e.State()
	require.NotNil(t, st.Quote)
	assert.NoError(t, st.Err)
}

func TestEngine_EmptyInputClearsWithoutRequest(t *testing.T) {
	backend := newGatedBackend()
	backend.open("Cairo")
	e := NewEngine(backend)
	defer e.Close()
	ctx := context.Background()

	_, err := e.Fetch(ctx, input("Cairo"))
	require.NoError(t, err)

	q, err := e.Fetch(ctx, input("   "))
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Nil(t, e.State().Quote)

	q, err = e.Fetch(ctx, Input{Address: "Cairo", Items: []Item{{ProductID: "p1", Quantity: 0}}})
	require.NoError(t, err)
	assert.Nil(t, q)

	assert.Equal(t, 1, backend.requestCount())
}

func TestEngine_NormalizesAddress(t *testing.T) {
	req, ok := buildRequest(Input{
		// E followed by a combining acute accent.
		Address: " Rue de l'E\u0301glise ",
		Items:   []Item{{ProductID: "p1", Quantity: 1}},
	})
	require.True(t, ok)
	assert.Equal(t, "Rue de l'\u00c9glise", req.Address)
}

func TestEngine_ScheduleDebounces(t *testing.T) {
	backend := newGatedBackend()
	backend.open("third")
	e := NewEngine(backend, WithDebounce(20*time.Millisecond))
	defer e.Close()

	changes := make(chan State, 8)
	unsubscribe := e.OnChange(func(s State) { changes <- s })
	defer unsubscribe()

	e.Schedule(input("first"))
	e.Schedule(input("second"))
	e.Schedule(input("third"))

	assert.Eventually(t, func() bool {
		st := e.State()
		return st.Quote != nil && !st.Loading
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, backend.requestCount())
	assert.Equal(t, "third", backend.requests[0].Address)

	first := <-changes
	assert.True(t, first.Loading)
}

func TestEngine_CloseStopsScheduled(t *testing.T) {
	backend := newGatedBackend()
	e := NewEngine(backend, WithDebounce(50*time.Millisecond))

	e.Schedule(input("Cairo"))
	e.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, backend.requestCount())
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	var wg sync.WaitGroup
	seen := make(chan int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		unique[v] = true
	}
	assert.Len(t, unique, 100)
	assert.Equal(t, int64(100), c.Current())
}
