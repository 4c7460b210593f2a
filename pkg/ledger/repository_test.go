package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/ledger/memory"
	"cardctl/pkg/ledger/mock"
	"cardctl/pkg/model"

	"github.com/shopspring/decimal"
)

func newRepo() *ledger.Repository {
	return ledger.NewRepository(memory.NewMemoryStore(memory.MemoryStoreConfig{}))
}

func TestRepository_OwnershipHidesRecords(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	card := &model.Card{ID: "card_1", UserID: "usr_1", Status: model.CardActive, CreatedAt: time.Now().UTC()}
	if err := repo.PutCard(ctx, card); err != nil {
		t.Fatalf("PutCard failed: %v", err)
	}

	if _, err := repo.GetCardForUser(ctx, "card_1", "usr_1"); err != nil {
		t.Errorf("Owner lookup failed: %v", err)
	}
	if _, err := repo.GetCardForUser(ctx, "card_1", "usr_2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for non-owner, got %v", err)
	}
	if _, err := repo.GetCardForUser(ctx, "card_missing", "usr_1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing card, got %v", err)
	}
	if _, err := repo.GetCardForUser(ctx, "bad id", "usr_1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestRepository_TransactionWindow(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{0, time.Hour, 2 * time.Hour} {
		txn := &model.Transaction{
			ID:        ledger.NewID(ledger.PrefixTransaction),
			UserID:    "usr_1",
			CardID:    "card_1",
			Amount:    decimal.NewFromInt(int64(10 * (i + 1))),
			Type:      model.TxnCapture,
			Status:    model.TxnPosted,
			CreatedAt: base.Add(offset),
		}
		if err := repo.PutTransaction(ctx, txn); err != nil {
			t.Fatalf("PutTransaction failed: %v", err)
		}
	}

	txns, err := repo.ListCardTransactions(ctx, "card_1", base.Add(time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("ListCardTransactions failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(txns))
	}
	if !txns[0].Amount.Equal(decimal.NewFromInt(20)) || !txns[1].Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Unexpected order: %s, %s", txns[0].Amount, txns[1].Amount)
	}
}

func TestRepository_MerchantTokens(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()

	id := ledger.MerchantTokenID("card_1", "m_1")
	tok := &model.MerchantToken{ID: id, UserID: "usr_1", CardID: "card_1", MerchantID: "m_1", CreatedAt: time.Now().UTC()}
	if err := repo.PutMerchantToken(ctx, tok); err != nil {
		t.Fatalf("PutMerchantToken failed: %v", err)
	}

	toks, err := repo.ListMerchantTokens(ctx, "card_1", "usr_2")
	if err != nil {
		t.Fatalf("ListMerchantTokens failed: %v", err)
	}
	if len(toks) != 0 {
		t.Errorf("Expected tokens to be scoped to their owner, got %d", len(toks))
	}

	if err := repo.DeleteMerchantToken(ctx, id); err != nil {
		t.Fatalf("DeleteMerchantToken failed: %v", err)
	}
	if _, err := repo.GetMerchantToken(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestRepository_BackendErrorsPropagate(t *testing.T) {
	store := mock.NewFailingStore("broken", ledger.ErrUnavailable)
	repo := ledger.NewRepository(store)
	ctx := context.Background()

	_, err := repo.GetCard(ctx, "card_1")
	if !ledger.IsUnavailable(err) {
		t.Errorf("Expected unavailable error, got %v", err)
	}
	if errors.Is(err, model.ErrNotFound) {
		t.Error("Backend failure must not look like a missing record")
	}

	err = repo.PutCard(ctx, &model.Card{ID: "card_1", UserID: "usr_1"})
	if !ledger.IsUnavailable(err) {
		t.Errorf("Expected unavailable error from put, got %v", err)
	}
	if store.PutCalls() != 1 {
		t.Errorf("Expected 1 put call, got %d", store.PutCalls())
	}
}
