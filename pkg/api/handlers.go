package api

import (
	"net/http"
	"net/url"

	"cardctl/pkg/auth"
	"cardctl/pkg/lifecycle"
	"cardctl/pkg/logging"
	"cardctl/pkg/model"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// fail logs server-side faults and writes the mapped error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := statusFor(err); status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, err)
}

// handle runs fn and writes its result with status.
func handle[T any](s *Server, w http.ResponseWriter, r *http.Request, status int, fn func() (T, error)) {
	v, err := fn()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

// Auth

type otpRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusAccepted, func() (map[string]string, error) {
		if _, err := s.auth.UserFor(req.Email); err != nil {
			return nil, err
		}
		// Delivery is out of band; the code is fixed for the demo directory.
		return map[string]string{"status": "code_sent"}, nil
	})
}

type loginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusCreated, func() (auth.Session, error) {
		return s.auth.Login(req.Email, req.Code)
	})
}

// Cards

type createCardRequest struct {
	Label string         `json:"label"`
	Type  model.CardKind `json:"type"`
}

// cardView adds the masked PAN to a card.
type cardView struct {
	*model.Card
	MaskedPAN string `json:"masked_pan"`
}

func viewCard(c *model.Card) cardView {
	return cardView{Card: c, MaskedPAN: c.MaskedPAN()}
}

func viewCards(cs []*model.Card) []cardView {
	out := make([]cardView, 0, len(cs))
	for _, c := range cs {
		out = append(out, viewCard(c))
	}
	return out
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusCreated, func() (cardView, error) {
		c, err := s.cards.Create(r.Context(), userID(r), req.Label, req.Type)
		if err != nil {
			return cardView{}, err
		}
		return viewCard(c), nil
	})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() ([]cardView, error) {
		cs, err := s.cards.List(r.Context(), userID(r))
		if err != nil {
			return nil, err
		}
		return viewCards(cs), nil
	})
}

// cardOp adapts a single-card service call to a handler.
func (s *Server) cardOp(fn func(r *http.Request, cardID, userID string) (*model.Card, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle(s, w, r, http.StatusOK, func() (cardView, error) {
			c, err := fn(r, pathVar(r, "id"), userID(r))
			if err != nil {
				return cardView{}, err
			}
			return viewCard(c), nil
		})
	}
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	s.cardOp(func(r *http.Request, cardID, userID string) (*model.Card, error) {
		return s.cards.Get(r.Context(), cardID, userID)
	})(w, r)
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	s.cardOp(func(r *http.Request, cardID, userID string) (*model.Card, error) {
		return s.cards.Freeze(r.Context(), cardID, userID)
	})(w, r)
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	s.cardOp(func(r *http.Request, cardID, userID string) (*model.Card, error) {
		return s.cards.Unfreeze(r.Context(), cardID, userID)
	})(w, r)
}

func (s *Server) handleRotateCredentials(w http.ResponseWriter, r *http.Request) {
	s.cardOp(func(r *http.Request, cardID, userID string) (*model.Card, error) {
		return s.cards.RotateCredentials(r.Context(), cardID, userID)
	})(w, r)
}

func (s *Server) handleUpdateControls(w http.ResponseWriter, r *http.Request) {
	var update model.ControlUpdate
	if err := decodeJSON(r, &update); err != nil {
		s.fail(w, r, err)
		return
	}
	s.cardOp(func(r *http.Request, cardID, userID string) (*model.Card, error) {
		return s.cards.UpdateControls(r.Context(), cardID, userID, update)
	})(w, r)
}

type reissueResponse struct {
	Old cardView `json:"old"`
	New cardView `json:"new"`
}

func (s *Server) handleReissue(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusCreated, func() (reissueResponse, error) {
		old, replacement, err := s.cards.Reissue(r.Context(), pathVar(r, "id"), userID(r))
		if err != nil {
			return reissueResponse{}, err
		}
		return reissueResponse{Old: viewCard(old), New: viewCard(replacement)}, nil
	})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() ([]*model.MerchantToken, error) {
		return s.cards.ListMerchantTokens(r.Context(), pathVar(r, "id"), userID(r))
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := s.cards.RevokeMerchantToken(r.Context(), pathVar(r, "id"), pathVar(r, "tokenID"), userID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type shareLinkView struct {
	*model.ShareLink
	URL string `json:"url"`
}

func (s *Server) handleCreateShareLink(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusCreated, func() (shareLinkView, error) {
		link, err := s.cards.CreateShareLink(r.Context(), pathVar(r, "id"), userID(r))
		if err != nil {
			return shareLinkView{}, err
		}
		return shareLinkView{ShareLink: link, URL: "/share-links/" + url.PathEscape(link.ID)}, nil
	})
}

func (s *Server) handleGetShareLink(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() (*model.ShareLink, error) {
		return s.cards.GetShareLink(r.Context(), pathVar(r, "id"), userID(r))
	})
}

func (s *Server) handleRevokeShareLink(w http.ResponseWriter, r *http.Request) {
	if err := s.cards.RevokeShareLink(r.Context(), pathVar(r, "id"), userID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transactions

type authorizeRequest struct {
	Amount          decimal.Decimal       `json:"amount"`
	Currency        string                `json:"currency"`
	MerchantName    string                `json:"merchant_name"`
	MerchantID      string                `json:"merchant_id"`
	MCC             string                `json:"mcc"`
	Country         string                `json:"country"`
	PresentmentMode model.PresentmentMode `json:"presentment_mode"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusCreated, func() (*model.Transaction, error) {
		return s.lifecycle.Authorize(r.Context(), lifecycle.AuthorizeRequest{
			CardID:       pathVar(r, "id"),
			UserID:       userID(r),
			Amount:       req.Amount,
			Currency:     req.Currency,
			MerchantName: req.MerchantName,
			MerchantID:   req.MerchantID,
			MCC:          req.MCC,
			Country:      req.Country,
			Presentment:  req.PresentmentMode,
		})
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() ([]*model.Transaction, error) {
		return s.lifecycle.ListTransactions(r.Context(), pathVar(r, "id"), userID(r))
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() (*model.Transaction, error) {
		return s.lifecycle.GetTransaction(r.Context(), pathVar(r, "id"), userID(r))
	})
}

type amountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusOK, func() (*model.Transaction, error) {
		return s.lifecycle.Post(r.Context(), pathVar(r, "id"), userID(r), req.Amount)
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusCreated, func() (*model.Transaction, error) {
		if req.Amount == nil {
			return nil, model.Validationf("amount is required")
		}
		return s.lifecycle.Refund(r.Context(), pathVar(r, "id"), userID(r), *req.Amount)
	})
}

// attachmentRequest names an uploaded file. Handle wins over Filename.
type attachmentRequest struct {
	Handle   string `json:"handle"`
	Filename string `json:"filename"`
}

func (a attachmentRequest) resolve(scheme, ownerID string) string {
	if a.Handle != "" || a.Filename == "" {
		return a.Handle
	}
	return scheme + "://" + ownerID + "/" + a.Filename
}

func (s *Server) handleAttachReceipt(w http.ResponseWriter, r *http.Request) {
	var req attachmentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusOK, func() (*model.Transaction, error) {
		txnID := pathVar(r, "id")
		return s.lifecycle.AttachReceipt(r.Context(), txnID, userID(r), req.resolve("receipt", txnID))
	})
}

// Disputes

type createDisputeRequest struct {
	Reason string          `json:"reason"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	var req createDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusCreated, func() (*model.Dispute, error) {
		return s.lifecycle.CreateDispute(r.Context(), pathVar(r, "id"), userID(r), req.Reason, req.Amount)
	})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() (*model.Dispute, error) {
		return s.lifecycle.GetDispute(r.Context(), pathVar(r, "id"), userID(r))
	})
}

func (s *Server) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	var req attachmentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusOK, func() (*model.Dispute, error) {
		disputeID := pathVar(r, "id")
		return s.lifecycle.AttachEvidence(r.Context(), disputeID, userID(r), req.resolve("evidence", disputeID))
	})
}

func (s *Server) handleSubmitDispute(w http.ResponseWriter, r *http.Request) {
	handle(s, w, r, http.StatusOK, func() (*model.Dispute, error) {
		return s.lifecycle.SubmitDispute(r.Context(), pathVar(r, "id"), userID(r))
	})
}

type resolveDisputeRequest struct {
	Result       model.DisputeStatus `json:"result"`
	CreditAmount *decimal.Decimal    `json:"credit_amount"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	req := resolveDisputeRequest{Result: model.DisputeResolved}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	handle(s, w, r, http.StatusOK, func() (*model.Dispute, error) {
		return s.lifecycle.ResolveDispute(r.Context(), pathVar(r, "id"), userID(r), req.Result, req.CreditAmount)
	})
}
