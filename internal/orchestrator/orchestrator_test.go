package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/peedubyah/tradebot/internal/capture"
	"github.com/peedubyah/tradebot/internal/domain"
	"github.com/peedubyah/tradebot/internal/notify"
)

type fakeSearcher struct {
	mu       sync.Mutex
	listings []domain.Listing
	err      error
	calls    int
}

func (f *fakeSearcher) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listings, nil
}

type fakeCapturer struct {
	mu     sync.Mutex
	dir    string
	failOn map[string]bool
	paths  []string
}

func newFakeCapturer(t *testing.T) *fakeCapturer {
	t.Helper()
	return &fakeCapturer{dir: t.TempDir(), failOn: map[string]bool{}}
}

func (f *fakeCapturer) Capture(ctx context.Context, itemID string) (*capture.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[itemID] {
		return nil, &domain.CaptureError{ItemID: itemID, Err: errors.New("render timeout")}
	}
	path := filepath.Join(f.dir, itemID+".png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		return nil, err
	}
	f.paths = append(f.paths, path)
	return &capture.Artifact{ItemID: itemID, Path: path}, nil
}

type fakeDeliverer struct {
	mu      sync.Mutex
	batches []notify.Batch
	failOn  map[int]bool // 1-based delivery attempt number
}

func (f *fakeDeliverer) Deliver(ctx context.Context, batch notify.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	if f.failOn[len(f.batches)] {
		return &domain.DeliveryError{StatusCode: 429, Err: errors.New("rate limited")}
	}
	return nil
}

func (f *fakeDeliverer) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b.Items)
	}
	return sizes
}

type writeBack struct {
	lastRun time.Time
	ledger  []string
}

type fakeRunStore struct {
	mu     sync.Mutex
	writes []writeBack
	err    error
}

func (f *fakeRunStore) UpdateRunState(ctx context.Context, id string, lastRun time.Time, sentItemIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ledger := append([]string(nil), sentItemIDs...)
	f.writes = append(f.writes, writeBack{lastRun: lastRun, ledger: ledger})
	return nil
}

func (f *fakeRunStore) lastLedger() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1].ledger
}

type fakeAnalytics struct {
	mu        sync.Mutex
	jobID     string
	delivered int
	calls     int
}

func (f *fakeAnalytics) RecordRun(ctx context.Context, jobID string, delivered int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobID = jobID
	f.delivered = delivered
	f.calls++
}

func listingsN(n int) []domain.Listing {
	out := make([]domain.Listing, n)
	for i := range out {
		out[i] = domain.Listing{ID: fmt.Sprintf("item-%d", i), Seller: "btag#123", Price: 1000000}
	}
	return out
}

func testJob(ledger []string) domain.WatchJob {
	return domain.WatchJob{
		ID:          "uber-boots",
		Schedule:    "*/15 * * * *",
		Filter:      domain.SearchFilter{Recipient: "1234"}.WithDefaults(),
		SentItemIDs: ledger,
	}
}

func TestRun_DeliversFreshListings(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(3)}
	capturer := newFakeCapturer(t)
	deliverer := &fakeDeliverer{}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, capturer, deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := deliverer.batchSizes(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("batch sizes = %v, want [3]", got)
	}
	wantLedger := []string{"item-0", "item-1", "item-2"}
	if got := store.lastLedger(); len(got) != 3 {
		t.Fatalf("ledger = %v, want %v", got, wantLedger)
	} else {
		for i, id := range wantLedger {
			if got[i] != id {
				t.Errorf("ledger[%d] = %q, want %q", i, got[i], id)
			}
		}
	}
}

func TestRun_SecondRunDeliversNothing(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(3)}
	capturer := newFakeCapturer(t)
	deliverer := &fakeDeliverer{}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, capturer, deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same provider results, ledger now holds all three IDs.
	if err := r.Run(context.Background(), testJob(store.lastLedger())); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := deliverer.batchSizes(); len(got) != 1 {
		t.Fatalf("second run delivered again: batches = %v", got)
	}
	if len(store.writes) != 1 {
		t.Errorf("second run wrote state: writes = %d, want 1", len(store.writes))
	}
}

func TestRun_CaptureFailureSkipsItemOnly(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(3)}
	capturer := newFakeCapturer(t)
	capturer.failOn["item-1"] = true
	deliverer := &fakeDeliverer{}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, capturer, deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := deliverer.batchSizes(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("batch sizes = %v, want [2]", got)
	}
	for _, id := range store.lastLedger() {
		if id == "item-1" {
			t.Error("failed capture ended up in the ledger")
		}
	}
}

func TestRun_ProviderErrorLeavesStateUntouched(t *testing.T) {
	provErr := &domain.ProviderError{StatusCode: 502, Err: errors.New("bad gateway")}
	searcher := &fakeSearcher{err: provErr}
	deliverer := &fakeDeliverer{}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, newFakeCapturer(t), deliverer, store)
	err := r.Run(context.Background(), testJob([]string{"old-item"}))

	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if len(deliverer.batches) != 0 {
		t.Error("delivery attempted after provider failure")
	}
	if len(store.writes) != 0 {
		t.Error("run state written after provider failure")
	}
}

func TestRun_BatchPartitioning(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(23)}
	deliverer := &fakeDeliverer{}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, newFakeCapturer(t), deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int{10, 10, 3}
	got := deliverer.batchSizes()
	if len(got) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, got[i], want[i])
		}
	}
	if len(store.writes) != 3 {
		t.Errorf("write-backs = %d, want one per batch", len(store.writes))
	}
}

func TestRun_FailedBatchPreservesEarlierWriteBack(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(15)}
	deliverer := &fakeDeliverer{failOn: map[int]bool{2: true}}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, newFakeCapturer(t), deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// First batch of 10 delivered and recorded; failing remainder of 5
	// must not be added to the ledger.
	if len(store.writes) != 1 {
		t.Fatalf("write-backs = %d, want 1", len(store.writes))
	}
	if got := store.lastLedger(); len(got) != 10 {
		t.Fatalf("ledger size = %d, want 10", len(got))
	}
}

func TestRun_LaterBatchesDeliveredAfterFailedBatch(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(25)}
	deliverer := &fakeDeliverer{failOn: map[int]bool{2: true}}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, newFakeCapturer(t), deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The failed middle batch must not stop the remainder: all three
	// batches are attempted, and the two successful ones are recorded.
	if got := deliverer.batchSizes(); len(got) != 3 {
		t.Fatalf("delivery attempts = %d, want 3", len(got))
	}
	if len(store.writes) != 2 {
		t.Fatalf("write-backs = %d, want 2", len(store.writes))
	}

	ledger := store.lastLedger()
	if len(ledger) != 15 {
		t.Fatalf("ledger size = %d, want 15", len(ledger))
	}
	seen := make(map[string]bool, len(ledger))
	for _, id := range ledger {
		seen[id] = true
	}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("item-%d", i)
		fromFailedBatch := i >= 10 && i < 20
		if fromFailedBatch && seen[id] {
			t.Errorf("ledger contains %s from the failed batch", id)
		}
		if !fromFailedBatch && !seen[id] {
			t.Errorf("ledger missing %s from a delivered batch", id)
		}
	}
}

func TestRun_ArtifactsReleasedAfterDeliveryAttempt(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(4)}
	capturer := newFakeCapturer(t)
	deliverer := &fakeDeliverer{failOn: map[int]bool{1: true}}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, capturer, deliverer, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, path := range capturer.paths {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("artifact %s not released after failed delivery", path)
		}
	}
}

func TestRun_RecipientPassedToDelivery(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(1)}
	deliverer := &fakeDeliverer{}

	r := New(Config{}, searcher, newFakeCapturer(t), deliverer, &fakeRunStore{})
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := deliverer.batches[0].Recipient; got != "1234" {
		t.Errorf("recipient = %q, want %q", got, "1234")
	}
}

func TestRun_AnalyticsRecordsDeliveredCount(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(5)}
	sink := &fakeAnalytics{}

	r := New(Config{}, searcher, newFakeCapturer(t), &fakeDeliverer{}, &fakeRunStore{}).
		WithAnalytics(sink)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.calls != 1 || sink.jobID != "uber-boots" || sink.delivered != 5 {
		t.Errorf("analytics = (%d calls, %q, %d), want (1, uber-boots, 5)", sink.calls, sink.jobID, sink.delivered)
	}
}

func TestRun_NoAnalyticsOnEmptyRun(t *testing.T) {
	searcher := &fakeSearcher{listings: nil}
	sink := &fakeAnalytics{}

	r := New(Config{}, searcher, newFakeCapturer(t), &fakeDeliverer{}, &fakeRunStore{}).
		WithAnalytics(sink)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.calls != 0 {
		t.Errorf("analytics recorded an empty run")
	}
}

func TestRunAdHoc_NoWriteBack(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(2)}
	deliverer := &fakeDeliverer{}
	store := &fakeRunStore{}

	r := New(Config{}, searcher, newFakeCapturer(t), deliverer, store)
	outcome, err := r.RunAdHoc(context.Background(), domain.SearchFilter{Recipient: "999"})
	if err != nil {
		t.Fatalf("RunAdHoc: %v", err)
	}

	if outcome.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", outcome.Delivered)
	}
	if len(store.writes) != 0 {
		t.Error("ad-hoc run wrote persistent state")
	}
}

func TestRun_WriteBackFailureDoesNotFailRun(t *testing.T) {
	searcher := &fakeSearcher{listings: listingsN(2)}
	store := &fakeRunStore{err: errors.New("connection reset")}

	r := New(Config{}, searcher, newFakeCapturer(t), &fakeDeliverer{}, store)
	if err := r.Run(context.Background(), testJob(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDropSeen_PreservesOrder(t *testing.T) {
	listings := listingsN(5)
	fresh := dropSeen(listings, []string{"item-1", "item-3"})

	want := []string{"item-0", "item-2", "item-4"}
	if len(fresh) != len(want) {
		t.Fatalf("fresh = %d items, want %d", len(fresh), len(want))
	}
	for i, id := range want {
		if fresh[i].ID != id {
			t.Errorf("fresh[%d] = %q, want %q", i, fresh[i].ID, id)
		}
	}
}
