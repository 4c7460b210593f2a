package lifecycle

import (
	"context"
	"time"

	"cardctl/pkg/ledger"
	"cardctl/pkg/logging"
	"cardctl/pkg/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateDispute files a draft dispute against the caller's transaction. The
// claimed amount is not bounded by the transaction amount.
func (m *Manager) CreateDispute(ctx context.Context, txnID, userID, reason string, amount decimal.Decimal) (d *model.Dispute, err error) {
	start := time.Now()
	defer func() { m.observe("create_dispute", start, err) }()

	txn, err := m.repo.GetTransactionForUser(ctx, txnID, userID)
	if err != nil {
		return nil, err
	}

	d = &model.Dispute{
		ID:        ledger.NewID(ledger.PrefixDispute),
		UserID:    userID,
		TxnID:     txn.ID,
		Reason:    reason,
		Amount:    amount,
		Evidence:  []string{},
		Status:    model.DisputeDraft,
		CreatedAt: m.now(),
	}
	if err := m.repo.PutDispute(ctx, d); err != nil {
		return nil, err
	}
	m.logger.Info("dispute created", logging.DisputeID(d.ID), logging.TxnID(txn.ID))
	return d, nil
}

// GetDispute returns the caller's dispute.
func (m *Manager) GetDispute(ctx context.Context, disputeID, userID string) (*model.Dispute, error) {
	return m.repo.GetDisputeForUser(ctx, disputeID, userID)
}

// mutateDispute runs fn on the caller's dispute under its lock and stores the
// result when fn succeeds.
func (m *Manager) mutateDispute(ctx context.Context, disputeID, userID string, fn func(d *model.Dispute) error) (*model.Dispute, error) {
	unlock := m.locks.Disputes.Lock(disputeID)
	defer unlock()

	d, err := m.repo.GetDisputeForUser(ctx, disputeID, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	if err := m.repo.PutDispute(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// AttachEvidence appends an opaque evidence handle. Duplicates are kept.
func (m *Manager) AttachEvidence(ctx context.Context, disputeID, userID, handle string) (d *model.Dispute, err error) {
	start := time.Now()
	defer func() { m.observe("attach_evidence", start, err) }()

	if handle == "" {
		return nil, model.Validationf("evidence handle must not be empty")
	}
	return m.mutateDispute(ctx, disputeID, userID, func(d *model.Dispute) error {
		d.Evidence = append(d.Evidence, handle)
		return nil
	})
}

// SubmitDispute moves a draft dispute to submitted.
func (m *Manager) SubmitDispute(ctx context.Context, disputeID, userID string) (d *model.Dispute, err error) {
	start := time.Now()
	defer func() { m.observe("submit_dispute", start, err) }()

	return m.mutateDispute(ctx, disputeID, userID, func(d *model.Dispute) error {
		if d.Status != model.DisputeDraft {
			return model.Transitionf("dispute %s is %s, not draft", d.ID, d.Status)
		}
		d.Status = model.DisputeSubmitted
		return nil
	})
}

// ResolveDispute moves a submitted dispute to result. partial_credit needs a
// positive credit. A credit on resolved or partial_credit posts a refund on
// the disputed transaction's card tagged with the dispute id; the refund is
// written before the dispute so a failure never leaves a credited dispute
// without its money movement.
func (m *Manager) ResolveDispute(ctx context.Context, disputeID, userID string, result model.DisputeStatus, credit *decimal.Decimal) (d *model.Dispute, err error) {
	start := time.Now()
	defer func() { m.observe("resolve_dispute", start, err) }()

	if !result.IsResolution() {
		return nil, model.Validationf("unknown resolution %q", result)
	}
	if result == model.DisputePartialCredit && (credit == nil || !credit.IsPositive()) {
		return nil, model.Validationf("credit_amount_required")
	}
	if credit != nil && !credit.IsPositive() {
		return nil, model.Validationf("credit amount must be positive")
	}

	unlock := m.locks.Disputes.Lock(disputeID)
	defer unlock()

	d, err = m.repo.GetDisputeForUser(ctx, disputeID, userID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DisputeSubmitted {
		return nil, model.Transitionf("dispute %s is %s, not submitted", d.ID, d.Status)
	}

	var refund *model.Transaction
	if credit != nil && result != model.DisputeRejected {
		refund, err = m.creditDispute(ctx, d, *credit)
		if err != nil {
			return nil, err
		}
	}

	resolvedAt := m.now()
	d.Status = result
	d.ResolvedAt = &resolvedAt
	if err := m.repo.PutDispute(ctx, d); err != nil {
		if refund != nil {
			if derr := m.repo.DeleteTransaction(ctx, refund.ID); derr != nil {
				m.logger.Error("orphaned dispute refund",
					logging.DisputeID(d.ID),
					logging.TxnID(refund.ID),
					zap.Error(derr),
				)
			}
		}
		return nil, err
	}

	fields := []zap.Field{logging.DisputeID(d.ID), zap.String("result", string(result))}
	if refund != nil {
		fields = append(fields, logging.TxnID(refund.ID))
	}
	m.logger.Info("dispute resolved", fields...)
	return d, nil
}

// creditDispute posts the dispute refund under the card lock. A missing base
// transaction yields no refund.
func (m *Manager) creditDispute(ctx context.Context, d *model.Dispute, credit decimal.Decimal) (*model.Transaction, error) {
	base, err := m.repo.GetTransaction(ctx, d.TxnID)
	if err != nil {
		if model.IsNotFound(err) {
			m.logger.Warn("disputed transaction gone, no credit posted", logging.DisputeID(d.ID), logging.TxnID(d.TxnID))
			return nil, nil
		}
		return nil, err
	}

	unlock := m.locks.Cards.Lock(base.CardID)
	defer unlock()

	refund := m.newRefund(base, credit, map[string]string{
		model.MetaDisputeID: d.ID,
		model.MetaRefundOf:  base.ID,
	})
	if err := m.repo.PutTransaction(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}
