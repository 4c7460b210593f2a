// Package cards manages card issuance, status, controls, merchant tokens,
// share links and credential rotation. Card writes take the same card lock
// stripes as the lifecycle manager so a freeze or a control change never
// interleaves with an authorization on the same card.
package cards

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/lock"
	"cardctl/pkg/logging"
	"cardctl/pkg/metrics"
	"cardctl/pkg/model"

	"go.uber.org/zap"
)

// DefaultShareLinkTTL is how long a share link stays readable.
const DefaultShareLinkTTL = 10 * time.Minute

// Credentials produces masked credential material: the PAN's last four
// digits and a CVV hint such as "**7".
type Credentials func() (last4, cvvHint string)

// RandomCredentials draws fresh masked credentials. Nothing secret is
// derived from them.
func RandomCredentials() (string, string) {
	return fmt.Sprintf("%04d", 1000+rand.IntN(9000)), fmt.Sprintf("**%d", rand.IntN(10))
}

// Options configures a Service. Zero fields get working defaults.
type Options struct {
	Locks        *lock.Locks
	Metrics      metrics.Collector
	Logger       *logging.Logger
	Clock        model.Clock
	ShareLinkTTL time.Duration
	Credentials  Credentials
}

// Service implements card management for card owners.
type Service struct {
	repo         *ledger.Repository
	locks        *lock.Locks
	metrics      metrics.Collector
	logger       *logging.Logger
	now          model.Clock
	shareLinkTTL time.Duration
	credentials  Credentials
}

// NewService creates a card service over repo.
func NewService(repo *ledger.Repository, opts Options) *Service {
	if opts.Locks == nil {
		opts.Locks = lock.NewLocks(lock.DefaultStripes)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpCollector{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Clock == nil {
		opts.Clock = model.SystemClock
	}
	if opts.ShareLinkTTL <= 0 {
		opts.ShareLinkTTL = DefaultShareLinkTTL
	}
	if opts.Credentials == nil {
		opts.Credentials = RandomCredentials
	}

	return &Service{
		repo:         repo,
		locks:        opts.Locks,
		metrics:      opts.Metrics,
		logger:       opts.Logger.Named("cards"),
		now:          opts.Clock,
		shareLinkTTL: opts.ShareLinkTTL,
		credentials:  opts.Credentials,
	}
}

func (s *Service) observe(operation string, start time.Time, err error) {
	s.metrics.RecordLifecycle(operation, model.ClassifyError(err), time.Since(start))
}

func (s *Service) newCard(userID, label string, kind model.CardKind, controls model.ControlSet) *model.Card {
	last4, hint := s.credentials()
	return &model.Card{
		ID:        ledger.NewID(ledger.PrefixCard),
		UserID:    userID,
		Label:     label,
		Status:    model.CardActive,
		Kind:      kind,
		Controls:  controls,
		PANLast4:  last4,
		CVVHint:   hint,
		CreatedAt: s.now(),
	}
}

// Create issues an active card with default controls. kind defaults to virtual.
func (s *Service) Create(ctx context.Context, userID, label string, kind model.CardKind) (card *model.Card, err error) {
	start := time.Now()
	defer func() { s.observe("create_card", start, err) }()

	label = strings.TrimSpace(label)
	if label == "" {
		return nil, model.Validationf("label must not be empty")
	}
	if kind == "" {
		kind = model.CardVirtual
	}
	if !kind.Valid() {
		return nil, model.Validationf("unknown card type %q", kind)
	}

	card = s.newCard(userID, label, kind, model.DefaultControls())
	if err := s.repo.PutCard(ctx, card); err != nil {
		return nil, err
	}
	s.logger.Info("card created", logging.CardID(card.ID), logging.UserID(userID), zap.String("type", string(kind)))
	return card, nil
}

// List returns the user's cards in creation order.
func (s *Service) List(ctx context.Context, userID string) ([]*model.Card, error) {
	return s.repo.ListCards(ctx, userID)
}

// Get returns the user's card.
func (s *Service) Get(ctx context.Context, cardID, userID string) (*model.Card, error) {
	return s.repo.GetCardForUser(ctx, cardID, userID)
}

// mutate runs fn on the user's card under the card lock and stores it.
func (s *Service) mutate(ctx context.Context, cardID, userID string, fn func(c *model.Card) error) (*model.Card, error) {
	unlock := s.locks.Cards.Lock(cardID)
	defer unlock()

	card, err := s.repo.GetCardForUser(ctx, cardID, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(card); err != nil {
		return nil, err
	}
	if err := s.repo.PutCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// terminal reports whether the card can no longer change status.
func terminal(c *model.Card) bool {
	return c.Status == model.CardClosed || c.Status == model.CardReplaced
}

// Freeze blocks authorizations on an active card. Freezing a frozen card is
// a no-op.
func (s *Service) Freeze(ctx context.Context, cardID, userID string) (card *model.Card, err error) {
	start := time.Now()
	defer func() { s.observe("freeze", start, err) }()

	return s.mutate(ctx, cardID, userID, func(c *model.Card) error {
		if terminal(c) {
			return model.Transitionf("card %s is %s", c.ID, c.Status)
		}
		c.Status = model.CardFrozen
		return nil
	})
}

// Unfreeze reactivates a frozen card. An active card is left as is.
func (s *Service) Unfreeze(ctx context.Context, cardID, userID string) (card *model.Card, err error) {
	start := time.Now()
	defer func() { s.observe("unfreeze", start, err) }()

	return s.mutate(ctx, cardID, userID, func(c *model.Card) error {
		if terminal(c) {
			return model.Transitionf("card %s is %s", c.ID, c.Status)
		}
		c.Status = model.CardActive
		return nil
	})
}

// Reissue replaces a card with a new active one of the same kind and
// controls. The old card becomes replaced and points at its successor; that
// reference is written once.
func (s *Service) Reissue(ctx context.Context, cardID, userID string) (old, replacement *model.Card, err error) {
	start := time.Now()
	defer func() { s.observe("reissue", start, err) }()

	unlock := s.locks.Cards.Lock(cardID)
	defer unlock()

	old, err = s.repo.GetCardForUser(ctx, cardID, userID)
	if err != nil {
		return nil, nil, err
	}
	if old.Status == model.CardReplaced || old.ReplacedByCardID != "" {
		return nil, nil, model.Transitionf("card %s was already replaced by %s", old.ID, old.ReplacedByCardID)
	}

	replacement = s.newCard(userID, old.Label+" (reissue)", old.Kind, old.Controls.Clone())
	if err := s.repo.PutCard(ctx, replacement); err != nil {
		return nil, nil, err
	}

	old.Status = model.CardReplaced
	old.ReplacedByCardID = replacement.ID
	if err := s.repo.PutCard(ctx, old); err != nil {
		return nil, nil, err
	}

	s.logger.Info("card reissued", logging.CardID(old.ID), zap.String("replaced_by", replacement.ID))
	return old, replacement, nil
}

// UpdateControls validates update and applies every supplied field at once.
func (s *Service) UpdateControls(ctx context.Context, cardID, userID string, update model.ControlUpdate) (card *model.Card, err error) {
	start := time.Now()
	defer func() { s.observe("update_controls", start, err) }()

	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, cardID, userID, func(c *model.Card) error {
		c.Controls = update.Apply(c.Controls)
		return nil
	})
}

// RotateCredentials assigns new masked credentials to the card.
func (s *Service) RotateCredentials(ctx context.Context, cardID, userID string) (card *model.Card, err error) {
	start := time.Now()
	defer func() { s.observe("rotate_credentials", start, err) }()

	return s.mutate(ctx, cardID, userID, func(c *model.Card) error {
		if terminal(c) {
			return model.Transitionf("card %s is %s", c.ID, c.Status)
		}
		c.PANLast4, c.CVVHint = s.credentials()
		return nil
	})
}

// ListMerchantTokens returns the card's merchant tokens.
func (s *Service) ListMerchantTokens(ctx context.Context, cardID, userID string) ([]*model.MerchantToken, error) {
	if _, err := s.repo.GetCardForUser(ctx, cardID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListMerchantTokens(ctx, cardID, userID)
}

// RevokeMerchantToken deletes a token of the user's card. The next
// authorization at that merchant provisions a new one.
func (s *Service) RevokeMerchantToken(ctx context.Context, cardID, tokenID, userID string) (err error) {
	start := time.Now()
	defer func() { s.observe("revoke_token", start, err) }()

	unlock := s.locks.Cards.Lock(cardID)
	defer unlock()

	tok, err := s.repo.GetMerchantToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if tok.UserID != userID || tok.CardID != cardID {
		return model.ErrNotFound
	}
	return s.repo.DeleteMerchantToken(ctx, tokenID)
}

// CreateShareLink issues a link exposing the card's masked credentials
// until now + TTL.
func (s *Service) CreateShareLink(ctx context.Context, cardID, userID string) (link *model.ShareLink, err error) {
	start := time.Now()
	defer func() { s.observe("create_share_link", start, err) }()

	card, err := s.repo.GetCardForUser(ctx, cardID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	link = &model.ShareLink{
		ID:        ledger.NewID(ledger.PrefixShareLink),
		UserID:    userID,
		CardID:    card.ID,
		MaskedPAN: card.MaskedPAN(),
		CVVHint:   card.CVVHint,
		ExpiresAt: now.Add(s.shareLinkTTL),
		CreatedAt: now,
	}
	if err := s.repo.PutShareLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// GetShareLink returns the link, or model.ErrExpired once it is past
// expires_at even though it is still stored.
func (s *Service) GetShareLink(ctx context.Context, linkID, userID string) (*model.ShareLink, error) {
	link, err := s.repo.GetShareLinkForUser(ctx, linkID, userID)
	if err != nil {
		return nil, err
	}
	if link.Expired(s.now()) {
		return nil, fmt.Errorf("share link %s: %w", link.ID, model.ErrExpired)
	}
	return link, nil
}

// RevokeShareLink deletes the user's link.
func (s *Service) RevokeShareLink(ctx context.Context, linkID, userID string) (err error) {
	start := time.Now()
	defer func() { s.observe("revoke_share_link", start, err) }()

	if _, err := s.repo.GetShareLinkForUser(ctx, linkID, userID); err != nil {
		return err
	}
	return s.repo.DeleteShareLink(ctx, linkID)
}
