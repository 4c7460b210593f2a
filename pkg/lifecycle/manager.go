// Package lifecycle drives the transaction and dispute state machines.
//
// Every read-modify-write runs under a striped lock: the card stripe for
// authorizations, posts, refunds and receipts, the dispute stripe for
// dispute transitions. Resolving a dispute with a credit takes the dispute
// stripe and then the card stripe, never the reverse.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"cardctl/pkg/controls"
	"cardctl/pkg/ledger"
	"cardctl/pkg/lock"
	"cardctl/pkg/logging"
	"cardctl/pkg/metrics"
	"cardctl/pkg/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Request defaults applied when a field is left empty.
const (
	DefaultCurrency     = "USD"
	DefaultMerchantName = "Merchant"
	DefaultMCC          = "5999"
	DefaultCountry      = "US"
)

// Options configures a Manager. Zero fields get working defaults.
type Options struct {
	// Locks must be shared with every other writer of cards.
	Locks   *lock.Locks
	Metrics metrics.Collector
	Logger  *logging.Logger
	Clock   model.Clock
}

// Manager owns the transaction and dispute lifecycle.
//
// Besides business denials and not-found errors, Authorize returns a
// validation error for a non-positive amount, and ResolveDispute returns an
// invalid-transition error unless the dispute is submitted.
type Manager struct {
	repo      *ledger.Repository
	evaluator *controls.Evaluator
	locks     *lock.Locks
	metrics   metrics.Collector
	logger    *logging.Logger
	now       model.Clock
}

// NewManager creates a lifecycle manager over repo.
func NewManager(repo *ledger.Repository, evaluator *controls.Evaluator, opts Options) *Manager {
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

	return &Manager{
		repo:      repo,
		evaluator: evaluator,
		locks:     opts.Locks,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("lifecycle"),
		now:       opts.Clock,
	}
}

func (m *Manager) observe(operation string, start time.Time, err error) {
	m.metrics.RecordLifecycle(operation, model.ClassifyError(err), time.Since(start))
}

// AuthorizeRequest is an incoming simulated authorization.
type AuthorizeRequest struct {
	CardID       string
	UserID       string
	Amount       decimal.Decimal
	Currency     string
	MerchantName string
	MerchantID   string
	MCC          string
	Country      string
	Presentment  model.PresentmentMode
}

func (r *AuthorizeRequest) normalize() error {
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if r.MerchantName == "" {
		r.MerchantName = DefaultMerchantName
	}
	if r.MCC == "" {
		r.MCC = DefaultMCC
	}
	if r.Country == "" {
		r.Country = DefaultCountry
	}
	if r.Presentment == "" {
		r.Presentment = model.PresentmentOnline
	}
	if !r.Presentment.Valid() {
		return model.Validationf("unknown presentment mode %q", r.Presentment)
	}
	if !r.Amount.IsPositive() {
		return model.Validationf("amount must be positive")
	}
	return nil
}

// Authorize evaluates req against the card's controls and, when approved,
// records a pending preauth holding the requested amount. A denial comes back
// as a *model.DenialError. The card lock spans the spend check and the
// insert, so concurrent authorizations near a limit serialize.
func (m *Manager) Authorize(ctx context.Context, req AuthorizeRequest) (txn *model.Transaction, err error) {
	start := time.Now()
	defer func() { m.recordAuthorization(req, start, err) }()

	if err := req.normalize(); err != nil {
		return nil, err
	}

	unlock := m.locks.Cards.Lock(req.CardID)
	defer unlock()

	card, err := m.repo.GetCardForUser(ctx, req.CardID, req.UserID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	decision, err := m.evaluator.EvaluateAt(ctx, card, controls.Request{
		Amount:       req.Amount,
		Currency:     req.Currency,
		MerchantName: req.MerchantName,
		MerchantID:   req.MerchantID,
		MCC:          req.MCC,
		Country:      req.Country,
		Presentment:  req.Presentment,
	}, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		return nil, decision.Err()
	}

	hold := req.Amount
	txn = &model.Transaction{
		ID:             ledger.NewID(ledger.PrefixTransaction),
		UserID:         req.UserID,
		CardID:         card.ID,
		MerchantName:   req.MerchantName,
		MerchantID:     req.MerchantID,
		MCC:            req.MCC,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Type:           model.TxnPreauth,
		Status:         model.TxnPending,
		AuthHoldAmount: &hold,
		Metadata: map[string]string{
			model.MetaCountry:         req.Country,
			model.MetaPresentmentMode: string(req.Presentment),
		},
		Receipts:  []string{},
		CreatedAt: now,
	}
	if err := m.repo.PutTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if req.MerchantID != "" {
		if err := m.ensureMerchantToken(ctx, card, req.MerchantID, req.MerchantName, now); err != nil {
			// The authorization stands; the token is retried on the next one.
			m.logger.Error("merchant token not stored",
				logging.CardID(card.ID),
				zap.String("merchant_id", req.MerchantID),
				zap.Error(err),
			)
		}
	}

	return txn, nil
}

func (m *Manager) recordAuthorization(req AuthorizeRequest, start time.Time, err error) {
	elapsed := time.Since(start)
	switch reason, denied := model.DenialReason(err); {
	case err == nil:
		m.metrics.RecordAuthorization(metrics.OutcomeApproved, "", elapsed)
		m.logger.Info("authorization approved",
			logging.CardID(req.CardID),
			zap.String("amount", req.Amount.String()),
			zap.String("mcc", req.MCC),
		)
	case denied:
		m.metrics.RecordAuthorization(metrics.OutcomeDenied, string(reason), elapsed)
		m.logger.Info("authorization denied",
			logging.CardID(req.CardID),
			logging.Reason(string(reason)),
			zap.String("amount", req.Amount.String()),
		)
	default:
		class := model.ClassifyError(err)
		m.metrics.RecordAuthorization(metrics.OutcomeError, class, elapsed)
		if class == "internal" || class == "timeout" || class == "circuit_open" {
			m.logger.Error("authorization failed", logging.CardID(req.CardID), zap.Error(err))
		}
	}
}

// ensureMerchantToken stores the (card, merchant) token unless it exists.
// Callers hold the card lock.
func (m *Manager) ensureMerchantToken(ctx context.Context, card *model.Card, merchantID, merchantName string, now time.Time) error {
	id := ledger.MerchantTokenID(card.ID, merchantID)
	_, err := m.repo.GetMerchantToken(ctx, id)
	if err == nil {
		return nil
	}
	if !model.IsNotFound(err) {
		return err
	}
	return m.repo.PutMerchantToken(ctx, &model.MerchantToken{
		ID:           id,
		UserID:       card.UserID,
		CardID:       card.ID,
		MerchantID:   merchantID,
		MerchantName: merchantName,
		CreatedAt:    now,
	})
}

// lockTxnCard resolves the caller's transaction, takes its card lock and
// re-reads the transaction under it. The card id of a transaction never
// changes, so the first read only picks the stripe.
func (m *Manager) lockTxnCard(ctx context.Context, txnID, userID string) (*model.Transaction, func(), error) {
	peek, err := m.repo.GetTransactionForUser(ctx, txnID, userID)
	if err != nil {
		return nil, nil, err
	}
	unlock := m.locks.Cards.Lock(peek.CardID)
	txn, err := m.repo.GetTransactionForUser(ctx, txnID, userID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return txn, unlock, nil
}

// Post settles a pending preauth as a posted capture. The posted amount is
// amount when given and non-zero, else the hold, else the original amount.
// Posting a transaction that is not a pending preauth is an invalid
// transition. A capture on an active single_use card closes the card.
func (m *Manager) Post(ctx context.Context, txnID, userID string, amount *decimal.Decimal) (txn *model.Transaction, err error) {
	start := time.Now()
	defer func() { m.observe("post", start, err) }()

	if amount != nil && amount.IsNegative() {
		return nil, model.Validationf("amount must not be negative")
	}

	txn, unlock, err := m.lockTxnCard(ctx, txnID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if txn.Type != model.TxnPreauth || txn.Status != model.TxnPending {
		return nil, model.Transitionf("transaction %s is %s/%s, not preauth/pending", txn.ID, txn.Type, txn.Status)
	}

	// A posted capture never sits on an open single_use card: close first.
	card, err := m.repo.GetCard(ctx, txn.CardID)
	switch {
	case err == nil:
		if card.Kind != model.CardSingleUse || card.Status != model.CardActive {
			card = nil
		}
	case model.IsNotFound(err):
		card = nil
	default:
		return nil, err
	}
	if card != nil {
		card.Status = model.CardClosed
		if err := m.repo.PutCard(ctx, card); err != nil {
			return nil, fmt.Errorf("close single-use card %s: %w", card.ID, err)
		}
	}

	posted := txn.Amount
	switch {
	case amount != nil && !amount.IsZero():
		posted = *amount
	case txn.AuthHoldAmount != nil && !txn.AuthHoldAmount.IsZero():
		posted = *txn.AuthHoldAmount
	}
	txn.Type = model.TxnCapture
	txn.Status = model.TxnPosted
	txn.PostedAmount = &posted

	if err := m.repo.PutTransaction(ctx, txn); err != nil {
		if card != nil {
			card.Status = model.CardActive
			if rerr := m.repo.PutCard(ctx, card); rerr != nil {
				m.logger.Error("single-use card left closed without capture",
					logging.CardID(card.ID),
					logging.TxnID(txn.ID),
					zap.Error(rerr),
				)
			}
		}
		return nil, err
	}

	if card != nil {
		m.logger.Info("single-use card closed after capture", logging.CardID(card.ID), logging.TxnID(txn.ID))
	}
	m.logger.Info("transaction posted", logging.TxnID(txn.ID), zap.String("posted_amount", posted.String()))
	return txn, nil
}

// Refund records a new posted refund of -|amount| against the base
// transaction's card. The base transaction is not modified.
func (m *Manager) Refund(ctx context.Context, txnID, userID string, amount decimal.Decimal) (refund *model.Transaction, err error) {
	start := time.Now()
	defer func() { m.observe("refund", start, err) }()

	if amount.IsZero() {
		return nil, model.Validationf("refund amount must not be zero")
	}

	base, unlock, err := m.lockTxnCard(ctx, txnID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	refund = m.newRefund(base, amount, map[string]string{model.MetaRefundOf: base.ID})
	if err := m.repo.PutTransaction(ctx, refund); err != nil {
		return nil, err
	}
	m.logger.Info("refund posted", logging.TxnID(refund.ID), zap.String("refund_of", base.ID))
	return refund, nil
}

func (m *Manager) newRefund(base *model.Transaction, amount decimal.Decimal, meta map[string]string) *model.Transaction {
	return &model.Transaction{
		ID:           ledger.NewID(ledger.PrefixTransaction),
		UserID:       base.UserID,
		CardID:       base.CardID,
		MerchantName: base.MerchantName,
		MerchantID:   base.MerchantID,
		MCC:          base.MCC,
		Currency:     base.Currency,
		Amount:       amount.Abs().Neg(),
		Type:         model.TxnRefund,
		Status:       model.TxnPosted,
		Metadata:     meta,
		Receipts:     []string{},
		CreatedAt:    m.now(),
	}
}

// AttachReceipt appends an opaque receipt handle. Duplicates are kept.
func (m *Manager) AttachReceipt(ctx context.Context, txnID, userID, handle string) (txn *model.Transaction, err error) {
	start := time.Now()
	defer func() { m.observe("attach_receipt", start, err) }()

	if handle == "" {
		return nil, model.Validationf("receipt handle must not be empty")
	}

	txn, unlock, err := m.lockTxnCard(ctx, txnID, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txn.Receipts = append(txn.Receipts, handle)
	if err := m.repo.PutTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// GetTransaction returns the caller's transaction.
func (m *Manager) GetTransaction(ctx context.Context, txnID, userID string) (*model.Transaction, error) {
	return m.repo.GetTransactionForUser(ctx, txnID, userID)
}

// ListTransactions returns the card's transactions ordered by creation time.
func (m *Manager) ListTransactions(ctx context.Context, cardID, userID string) ([]*model.Transaction, error) {
	if _, err := m.repo.GetCardForUser(ctx, cardID, userID); err != nil {
		return nil, err
	}
	return m.repo.ListCardTransactions(ctx, cardID, time.Time{}, time.Time{})
}
