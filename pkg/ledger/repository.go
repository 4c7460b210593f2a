package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cardctl/pkg/model"
)

// Repository is the typed view over a Store. It translates ErrNotFound into
// model.ErrNotFound and enforces ownership on every *ForUser lookup, so a
// foreign entity is indistinguishable from a missing one.
type Repository struct {
	store Store
}

// NewRepository wraps store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying backend.
func (r *Repository) Store() Store {
	return r.store
}

func get[T any](ctx context.Context, s Store, kind Kind, id string) (*T, *Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, nil, model.ErrNotFound
	}
	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, model.ErrNotFound
		}
		return nil, nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	var v T
	if err := json.Unmarshal(rec.Body, &v); err != nil {
		return nil, nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return &v, rec, nil
}

func getOwned[T any](ctx context.Context, s Store, kind Kind, id, userID string) (*T, error) {
	v, rec, err := get[T](ctx, s, kind, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != userID {
		return nil, model.ErrNotFound
	}
	return v, nil
}

func put(ctx context.Context, s Store, kind Kind, id, ownerID, cardID string, createdAt time.Time, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	rec := &Record{
		Kind:      kind,
		ID:        id,
		OwnerID:   ownerID,
		CardID:    cardID,
		CreatedAt: createdAt,
		Body:      body,
	}
	if err := s.Put(ctx, rec); err != nil {
		return fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return nil
}

func scan[T any](ctx context.Context, s Store, kind Kind, filter Filter) ([]*T, error) {
	recs, err := s.Scan(ctx, kind, filter)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", kind, err)
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, rec.ID, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// GetCard returns a card regardless of owner.
func (r *Repository) GetCard(ctx context.Context, id string) (*model.Card, error) {
	c, _, err := get[model.Card](ctx, r.store, KindCard, id)
	return c, err
}

// GetCardForUser returns the card only if userID owns it.
func (r *Repository) GetCardForUser(ctx context.Context, id, userID string) (*model.Card, error) {
	return getOwned[model.Card](ctx, r.store, KindCard, id, userID)
}

// PutCard stores a card.
func (r *Repository) PutCard(ctx context.Context, c *model.Card) error {
	return put(ctx, r.store, KindCard, c.ID, c.UserID, c.ID, c.CreatedAt, c)
}

// ListCards returns the user's cards in creation order.
func (r *Repository) ListCards(ctx context.Context, userID string) ([]*model.Card, error) {
	return scan[model.Card](ctx, r.store, KindCard, Filter{OwnerID: userID})
}

// GetTransaction returns a transaction regardless of owner.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	t, _, err := get[model.Transaction](ctx, r.store, KindTransaction, id)
	return t, err
}

// GetTransactionForUser returns the transaction only if userID owns it.
func (r *Repository) GetTransactionForUser(ctx context.Context, id, userID string) (*model.Transaction, error) {
	return getOwned[model.Transaction](ctx, r.store, KindTransaction, id, userID)
}

// PutTransaction stores a transaction.
func (r *Repository) PutTransaction(ctx context.Context, t *model.Transaction) error {
	return put(ctx, r.store, KindTransaction, t.ID, t.UserID, t.CardID, t.CreatedAt, t)
}

// DeleteTransaction removes a transaction. Only used to undo a write that
// could not be completed.
func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	return r.store.Delete(ctx, KindTransaction, id)
}

// ListCardTransactions returns the card's transactions with CreatedAt in
// [since, until], ordered by CreatedAt. Zero bounds are open.
func (r *Repository) ListCardTransactions(ctx context.Context, cardID string, since, until time.Time) ([]*model.Transaction, error) {
	return scan[model.Transaction](ctx, r.store, KindTransaction, Filter{CardID: cardID, Since: since, Until: until})
}

// GetDisputeForUser returns the dispute only if userID owns it.
func (r *Repository) GetDisputeForUser(ctx context.Context, id, userID string) (*model.Dispute, error) {
	return getOwned[model.Dispute](ctx, r.store, KindDispute, id, userID)
}

// PutDispute stores a dispute.
func (r *Repository) PutDispute(ctx context.Context, d *model.Dispute) error {
	return put(ctx, r.store, KindDispute, d.ID, d.UserID, "", d.CreatedAt, d)
}

// GetMerchantToken returns a token regardless of owner.
func (r *Repository) GetMerchantToken(ctx context.Context, id string) (*model.MerchantToken, error) {
	t, _, err := get[model.MerchantToken](ctx, r.store, KindMerchantToken, id)
	return t, err
}

// PutMerchantToken stores a merchant token.
func (r *Repository) PutMerchantToken(ctx context.Context, t *model.MerchantToken) error {
	return put(ctx, r.store, KindMerchantToken, t.ID, t.UserID, t.CardID, t.CreatedAt, t)
}

// ListMerchantTokens returns the tokens of a card owned by userID.
func (r *Repository) ListMerchantTokens(ctx context.Context, cardID, userID string) ([]*model.MerchantToken, error) {
	return scan[model.MerchantToken](ctx, r.store, KindMerchantToken, Filter{CardID: cardID, OwnerID: userID})
}

// DeleteMerchantToken removes a merchant token.
func (r *Repository) DeleteMerchantToken(ctx context.Context, id string) error {
	return r.store.Delete(ctx, KindMerchantToken, id)
}

// GetShareLinkForUser returns the link only if userID owns it.
func (r *Repository) GetShareLinkForUser(ctx context.Context, id, userID string) (*model.ShareLink, error) {
	return getOwned[model.ShareLink](ctx, r.store, KindShareLink, id, userID)
}

// PutShareLink stores a share link.
func (r *Repository) PutShareLink(ctx context.Context, s *model.ShareLink) error {
	return put(ctx, r.store, KindShareLink, s.ID, s.UserID, s.CardID, s.CreatedAt, s)
}

// DeleteShareLink removes a share link.
func (r *Repository) DeleteShareLink(ctx context.Context, id string) error {
	return r.store.Delete(ctx, KindShareLink, id)
}
