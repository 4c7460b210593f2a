package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cardctl/pkg/cards"
	"cardctl/pkg/controls"
	"cardctl/pkg/ledger"
	"cardctl/pkg/ledger/memory"
	"cardctl/pkg/lock"
	"cardctl/pkg/logging"
	metricsmem "cardctl/pkg/metrics/memory"
	"cardctl/pkg/model"
	"cardctl/pkg/spend"

	"github.com/shopspring/decimal"
)

// stepClock advances by one millisecond on every read so creation order is
// strict and every record falls inside a daily window.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fixture struct {
	cards   *cards.Service
	manager *Manager
	repo    *ledger.Repository
	metrics *metricsmem.MemoryCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewMemoryStore(memory.MemoryStoreConfig{}))
}

func newFixtureWithStore(t *testing.T, store ledger.Store) *fixture {
	t.Helper()

	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := ledger.NewRepository(store)
	locks := lock.NewLocks(16)
	collector := metricsmem.NewMemoryCollector()
	logger := logging.NewNoOpLogger()

	return &fixture{
		cards: cards.NewService(repo, cards.Options{
			Locks:   locks,
			Metrics: collector,
			Logger:  logger,
			Clock:   clock.Now,
		}),
		manager: NewManager(repo, controls.NewEvaluator(spend.NewLedgerAggregator(repo), clock.Now), Options{
			Locks:   locks,
			Metrics: collector,
			Logger:  logger,
			Clock:   clock.Now,
		}),
		repo:    repo,
		metrics: collector,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (f *fixture) card(t *testing.T, userID string, kind model.CardKind, update *model.ControlUpdate) *model.Card {
	t.Helper()
	ctx := context.Background()

	card, err := f.cards.Create(ctx, userID, "Groceries", kind)
	if err != nil {
		t.Fatalf("Create card failed: %v", err)
	}
	if update != nil {
		card, err = f.cards.UpdateControls(ctx, card.ID, userID, *update)
		if err != nil {
			t.Fatalf("UpdateControls failed: %v", err)
		}
	}
	return card
}

func dailyLimit(amount string) *model.ControlUpdate {
	return &model.ControlUpdate{
		MCCAllow:           model.SetTo([]string{"5999"}),
		SpendLimitAmount:   model.SetTo(dec(amount)),
		SpendLimitInterval: model.SetTo(model.IntervalDaily),
	}
}

func (f *fixture) authorize(card *model.Card, amount, mcc string) (*model.Transaction, error) {
	return f.manager.Authorize(context.Background(), AuthorizeRequest{
		CardID:     card.ID,
		UserID:     card.UserID,
		Amount:     dec(amount),
		MerchantID: "m_grocer",
		MCC:        mcc,
	})
}

func (f *fixture) mustAuthorize(t *testing.T, card *model.Card, amount string) *model.Transaction {
	t.Helper()
	txn, err := f.authorize(card, amount, "5999")
	if err != nil {
		t.Fatalf("Authorize %s failed: %v", amount, err)
	}
	return txn
}

func (f *fixture) mustPost(t *testing.T, txn *model.Transaction) *model.Transaction {
	t.Helper()
	posted, err := f.manager.Post(context.Background(), txn.ID, txn.UserID, nil)
	if err != nil {
		t.Fatalf("Post %s failed: %v", txn.ID, err)
	}
	return posted
}

func expectDenied(t *testing.T, err error, want model.Reason) {
	t.Helper()
	reason, ok := model.DenialReason(err)
	if !ok {
		t.Fatalf("Expected denial %s, got %v", want, err)
	}
	if reason != want {
		t.Errorf("Expected reason %s, got %s", want, reason)
	}
}

func TestManager_AuthorizeScenario(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, dailyLimit("100"))

	txn := f.mustAuthorize(t, card, "60")
	if txn.Type != model.TxnPreauth || txn.Status != model.TxnPending {
		t.Errorf("Expected pending preauth, got %s/%s", txn.Type, txn.Status)
	}
	if txn.AuthHoldAmount == nil || !txn.AuthHoldAmount.Equal(dec("60")) {
		t.Errorf("Expected hold of 60, got %v", txn.AuthHoldAmount)
	}
	if txn.Metadata[model.MetaCountry] != "US" || txn.Metadata[model.MetaPresentmentMode] != "online" {
		t.Errorf("Unexpected metadata: %v", txn.Metadata)
	}
	f.mustPost(t, txn)

	_, err := f.authorize(card, "50", "5999")
	expectDenied(t, err, model.ReasonSpendLimitExceeded)

	_, err = f.authorize(card, "40", "1234")
	expectDenied(t, err, model.ReasonMCCBlocked)

	txns, err := f.manager.ListTransactions(context.Background(), card.ID, card.UserID)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("Denials must not create transactions, got %d", len(txns))
	}

	snap := f.metrics.Snapshot()
	if snap.Authorizations["approved"] != 1 || snap.Authorizations["denied"] != 2 {
		t.Errorf("Unexpected authorization counts: %v", snap.Authorizations)
	}
	if snap.DenialReasons["spend_limit_exceeded"] != 1 || snap.DenialReasons["mcc_blocked"] != 1 {
		t.Errorf("Unexpected denial reasons: %v", snap.DenialReasons)
	}
	if f.metrics.LifecycleCount("post", "ok") != 1 {
		t.Errorf("Expected one successful post metric")
	}
}

func TestManager_SpendLimitBoundary(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, dailyLimit("100"))

	f.mustPost(t, f.mustAuthorize(t, card, "60"))

	// 60 + 40 == 100 is allowed.
	f.mustAuthorize(t, card, "40")
}

func TestManager_PendingHoldsDoNotCount(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, dailyLimit("100"))

	f.mustAuthorize(t, card, "90")
	f.mustAuthorize(t, card, "90")

	// Refunds do not reduce spend either.
	posted := f.mustPost(t, f.mustAuthorize(t, card, "90"))
	if _, err := f.manager.Refund(context.Background(), posted.ID, card.UserID, dec("90")); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	_, err := f.authorize(card, "20", "5999")
	expectDenied(t, err, model.ReasonSpendLimitExceeded)
}

func TestManager_AuthorizeValidation(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AuthorizeRequest
	}{
		{"zero amount", AuthorizeRequest{CardID: card.ID, UserID: "usr_1"}},
		{"negative amount", AuthorizeRequest{CardID: card.ID, UserID: "usr_1", Amount: dec("-5")}},
		{"unknown presentment", AuthorizeRequest{CardID: card.ID, UserID: "usr_1", Amount: dec("5"), Presentment: "swipe"}},
	}
	for _, tt := range tests {
		if _, err := f.manager.Authorize(ctx, tt.req); !errors.Is(err, model.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}

	if _, err := f.manager.Authorize(ctx, AuthorizeRequest{CardID: card.ID, UserID: "usr_2", Amount: dec("5")}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user's card, got %v", err)
	}
}

func TestManager_AuthorizeFrozenCard(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)

	pending := f.mustAuthorize(t, card, "10")
	if _, err := f.cards.Freeze(context.Background(), card.ID, card.UserID); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	_, err := f.authorize(card, "10", "5999")
	expectDenied(t, err, model.ReasonCardInactive)

	// A hold taken before the freeze can still be captured.
	f.mustPost(t, pending)
}

func TestManager_MerchantTokens(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	ctx := context.Background()

	f.mustAuthorize(t, card, "10")
	f.mustAuthorize(t, card, "20")
	if _, err := f.manager.Authorize(ctx, AuthorizeRequest{CardID: card.ID, UserID: "usr_1", Amount: dec("5")}); err != nil {
		t.Fatalf("Authorize without merchant failed: %v", err)
	}

	tokens, err := f.cards.ListMerchantTokens(ctx, card.ID, card.UserID)
	if err != nil {
		t.Fatalf("ListMerchantTokens failed: %v", err)
	}
	if len(tokens) != 1 || tokens[0].MerchantID != "m_grocer" {
		t.Errorf("Expected one m_grocer token, got %+v", tokens)
	}
}

func TestManager_SingleUseClosesOnCapture(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardSingleUse, nil)
	ctx := context.Background()

	f.mustPost(t, f.mustAuthorize(t, card, "25"))

	got, err := f.cards.Get(ctx, card.ID, card.UserID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != model.CardClosed {
		t.Errorf("Expected closed single-use card, got %s", got.Status)
	}

	_, err = f.authorize(card, "1", "5999")
	expectDenied(t, err, model.ReasonCardInactive)
}

// flakyStore fails every Put of one record kind until healed.
type flakyStore struct {
	ledger.Store
	mu   sync.Mutex
	kind ledger.Kind
}

func (s *flakyStore) failPuts(kind ledger.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind = kind
}

func (s *flakyStore) Put(ctx context.Context, rec *ledger.Record) error {
	s.mu.Lock()
	kind := s.kind
	s.mu.Unlock()
	if kind != "" && rec.Kind == kind {
		return ledger.ErrUnavailable
	}
	return s.Store.Put(ctx, rec)
}

func TestManager_SingleUsePostWriteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("card write fails", func(t *testing.T) {
		store := &flakyStore{Store: memory.NewMemoryStore(memory.MemoryStoreConfig{})}
		f := newFixtureWithStore(t, store)
		card := f.card(t, "usr_1", model.CardSingleUse, nil)
		txn := f.mustAuthorize(t, card, "25")

		store.failPuts(ledger.KindCard)
		if _, err := f.manager.Post(ctx, txn.ID, card.UserID, nil); !errors.Is(err, ledger.ErrUnavailable) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
		got, err := f.repo.GetTransaction(ctx, txn.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Type != model.TxnPreauth || got.Status != model.TxnPending {
			t.Errorf("Expected capture not written, got %s/%s", got.Type, got.Status)
		}

		store.failPuts("")
		f.mustPost(t, txn)
		closed, err := f.repo.GetCard(ctx, card.ID)
		if err != nil {
			t.Fatalf("GetCard failed: %v", err)
		}
		if closed.Status != model.CardClosed {
			t.Errorf("Expected closed card after retry, got %s", closed.Status)
		}
		_, err = f.authorize(card, "1", "5999")
		expectDenied(t, err, model.ReasonCardInactive)
	})

	t.Run("transaction write fails", func(t *testing.T) {
		store := &flakyStore{Store: memory.NewMemoryStore(memory.MemoryStoreConfig{})}
		f := newFixtureWithStore(t, store)
		card := f.card(t, "usr_1", model.CardSingleUse, nil)
		txn := f.mustAuthorize(t, card, "25")

		store.failPuts(ledger.KindTransaction)
		if _, err := f.manager.Post(ctx, txn.ID, card.UserID, nil); !errors.Is(err, ledger.ErrUnavailable) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
		got, err := f.repo.GetCard(ctx, card.ID)
		if err != nil {
			t.Fatalf("GetCard failed: %v", err)
		}
		if got.Status != model.CardActive {
			t.Errorf("Expected card reopened after failed capture, got %s", got.Status)
		}

		store.failPuts("")
		f.mustPost(t, txn)
	})
}

func TestManager_Post(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	ctx := context.Background()

	t.Run("amount override", func(t *testing.T) {
		txn := f.mustAuthorize(t, card, "50")
		posted, err := f.manager.Post(ctx, txn.ID, card.UserID, decPtr("42.50"))
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
		if posted.Type != model.TxnCapture || posted.Status != model.TxnPosted {
			t.Errorf("Expected posted capture, got %s/%s", posted.Type, posted.Status)
		}
		if !posted.PostedAmount.Equal(dec("42.50")) {
			t.Errorf("Expected posted 42.50, got %s", posted.PostedAmount)
		}
		if !posted.CreatedAt.Equal(txn.CreatedAt) {
			t.Errorf("Post moved created_at")
		}
	})

	t.Run("zero amount falls back to hold", func(t *testing.T) {
		txn := f.mustAuthorize(t, card, "30")
		posted, err := f.manager.Post(ctx, txn.ID, card.UserID, decPtr("0"))
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
		if !posted.PostedAmount.Equal(dec("30")) {
			t.Errorf("Expected posted 30, got %s", posted.PostedAmount)
		}
	})

	t.Run("negative amount", func(t *testing.T) {
		txn := f.mustAuthorize(t, card, "30")
		if _, err := f.manager.Post(ctx, txn.ID, card.UserID, decPtr("-1")); !errors.Is(err, model.ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
	})

	t.Run("twice", func(t *testing.T) {
		txn := f.mustPost(t, f.mustAuthorize(t, card, "30"))
		if _, err := f.manager.Post(ctx, txn.ID, card.UserID, nil); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("refund", func(t *testing.T) {
		base := f.mustPost(t, f.mustAuthorize(t, card, "30"))
		refund, err := f.manager.Refund(ctx, base.ID, card.UserID, dec("5"))
		if err != nil {
			t.Fatalf("Refund failed: %v", err)
		}
		if _, err := f.manager.Post(ctx, refund.ID, card.UserID, nil); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("other user", func(t *testing.T) {
		txn := f.mustAuthorize(t, card, "30")
		if _, err := f.manager.Post(ctx, txn.ID, "usr_2", nil); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestManager_Refund(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	ctx := context.Background()
	base := f.mustPost(t, f.mustAuthorize(t, card, "80"))

	if _, err := f.manager.Refund(ctx, base.ID, card.UserID, decimal.Zero); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Expected ErrValidation for zero refund, got %v", err)
	}

	// The sign of the requested amount is ignored.
	refund, err := f.manager.Refund(ctx, base.ID, card.UserID, dec("-30"))
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refund.Type != model.TxnRefund || refund.Status != model.TxnPosted {
		t.Errorf("Expected posted refund, got %s/%s", refund.Type, refund.Status)
	}
	if !refund.Amount.Equal(dec("-30")) {
		t.Errorf("Expected amount -30, got %s", refund.Amount)
	}
	if refund.Metadata[model.MetaRefundOf] != base.ID || refund.CardID != card.ID {
		t.Errorf("Refund not linked to base: %+v", refund)
	}

	got, err := f.manager.GetTransaction(ctx, base.ID, card.UserID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if got.Type != model.TxnCapture || !got.PostedAmount.Equal(dec("80")) {
		t.Errorf("Base transaction modified: %+v", got)
	}
}

func TestManager_AttachReceipt(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	ctx := context.Background()
	txn := f.mustAuthorize(t, card, "10")

	if _, err := f.manager.AttachReceipt(ctx, txn.ID, card.UserID, ""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty handle, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.manager.AttachReceipt(ctx, txn.ID, card.UserID, "receipt://a.png"); err != nil {
			t.Fatalf("AttachReceipt failed: %v", err)
		}
	}

	got, err := f.manager.GetTransaction(ctx, txn.ID, card.UserID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if len(got.Receipts) != 2 {
		t.Errorf("Expected duplicate receipts kept, got %v", got.Receipts)
	}
	if got.Status != model.TxnPending {
		t.Errorf("Receipt changed status to %s", got.Status)
	}
}

func TestManager_ListTransactionsOrder(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	ctx := context.Background()

	first := f.mustAuthorize(t, card, "1")
	second := f.mustAuthorize(t, card, "2")
	f.mustPost(t, first)

	txns, err := f.manager.ListTransactions(ctx, card.ID, card.UserID)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 2 || txns[0].ID != first.ID || txns[1].ID != second.ID {
		t.Errorf("Expected creation order, got %v", txns)
	}

	if _, err := f.manager.ListTransactions(ctx, card.ID, "usr_2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user, got %v", err)
	}
}

func TestManager_ConcurrentPost(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)
	txn := f.mustAuthorize(t, card, "10")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Post(context.Background(), txn.ID, card.UserID, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, model.ErrInvalidTransition):
				rejected++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != workers-1 {
		t.Errorf("Expected 1 success and %d rejections, got %d and %d", workers-1, succeeded, rejected)
	}
}

func TestManager_ConcurrentAuthorize(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, nil)

	const workers = 10
	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := f.authorize(card, "1", "5999")
			if err != nil {
				t.Errorf("Authorize failed: %v", err)
				return
			}
			ids[i] = txn.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("Expected distinct transaction ids, got %v", ids)
		}
		seen[id] = true
	}
	txns, err := f.manager.ListTransactions(context.Background(), card.ID, card.UserID)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != workers {
		t.Errorf("Expected %d transactions, got %d", workers, len(txns))
	}
}

// Concurrent posts near the limit: once every capture is in, the next
// authorization sees all of them.
func TestManager_ConcurrentPostsCount(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "usr_1", model.CardVirtual, dailyLimit("100"))

	txns := make([]*model.Transaction, 5)
	for i := range txns {
		txns[i] = f.mustAuthorize(t, card, "20")
	}

	var wg sync.WaitGroup
	for _, txn := range txns {
		wg.Add(1)
		go func(txn *model.Transaction) {
			defer wg.Done()
			if _, err := f.manager.Post(context.Background(), txn.ID, txn.UserID, nil); err != nil {
				t.Errorf("Post failed: %v", err)
			}
		}(txn)
	}
	wg.Wait()

	_, err := f.authorize(card, "0.01", "5999")
	expectDenied(t, err, model.ReasonSpendLimitExceeded)
}
