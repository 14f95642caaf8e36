// internal/borrowing/handler.go
package borrowing

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"neighborly/internal/auth"
	"neighborly/internal/platform/apperr"
	"neighborly/internal/platform/httpx"
)

type Handler struct {
	service Service
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, now: time.Now}
}

// Routes mounts the borrow request API. Every route needs an authenticated
// caller.
func (h *Handler) Routes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Route("/borrow-requests", func(r chi.Router) {
			r.Post("/", h.handleCreate)
			r.Get("/", h.handleList)
			r.Get("/overdue", h.handleListOverdue)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGet)
				r.Post("/approve", h.handleApprove)
				r.Post("/reject", h.handleReject)
				r.Post("/start", h.handleSimple(h.service.StartBorrow))
				r.Post("/cancel", h.handleSimple(h.service.Cancel))
				r.Post("/return", h.handleSimple(h.service.MarkAsReturned))
				r.Post("/deposit", h.handleSimple(h.service.MarkDepositPaid))
				r.Post("/rate", h.handleRate)
			})
		})
		r.Get("/items/{itemID}/borrow-requests", h.handleListForItem)
	})
}

type createRequest struct {
	ItemID             uuid.UUID `json:"item_id" validate:"required"`
	Message            string    `json:"message" validate:"max=1000"`
	RequestedStartDate string    `json:"requested_start_date" validate:"required,datetime=2006-01-02"`
	RequestedEndDate   string    `json:"requested_end_date" validate:"required,datetime=2006-01-02"`
	DepositAmount      *int64    `json:"deposit_amount" validate:"omitempty,gte=0"`
}

type respondRequest struct {
	ResponseMessage string `json:"response_message" validate:"max=1000"`
}

type rateRequest struct {
	Rating   *int   `json:"rating" validate:"required"`
	Feedback string `json:"feedback" validate:"max=2000"`
}

// requestView adds derived fields to the stored request.
type requestView struct {
	*BorrowRequest
	DurationInDays int  `json:"duration_in_days"`
	Overdue        bool `json:"overdue"`
}

func (h *Handler) view(req *BorrowRequest) requestView {
	return requestView{
		BorrowRequest:  req,
		DurationInDays: req.DurationInDays(),
		Overdue:        req.IsOverdue(h.now()),
	}
}

func (h *Handler) views(reqs []BorrowRequest) map[string]any {
	out := make([]requestView, len(reqs))
	for i := range reqs {
		out[i] = h.view(&reqs[i])
	}
	return map[string]any{"borrow_requests": out}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body createRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	// both dates already passed the datetime validator
	start, _ := time.Parse(time.DateOnly, body.RequestedStartDate)
	end, _ := time.Parse(time.DateOnly, body.RequestedEndDate)

	req, err := h.service.CreateBorrowRequest(r.Context(), CreateInput{
		ItemID:             body.ItemID,
		BorrowerID:         callerID,
		Message:            body.Message,
		RequestedStartDate: start,
		RequestedEndDate:   end,
		DepositAmount:      body.DepositAmount,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.view(req))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	status := Status(r.URL.Query().Get("status"))

	var (
		reqs []BorrowRequest
		err  error
	)
	switch Role(r.URL.Query().Get("role")) {
	case RoleBorrower, "":
		reqs, err = h.service.ListForBorrower(r.Context(), callerID, status)
	case RoleLender:
		reqs, err = h.service.ListForLender(r.Context(), callerID, status)
	default:
		err = apperr.Validation("role must be borrower or lender")
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.views(reqs))
}

func (h *Handler) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	reqs, err := h.service.ListOverdue(r.Context(), callerID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.views(reqs))
}

func (h *Handler) handleListForItem(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	itemID, err := httpx.URLParamUUID(r, "itemID")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	reqs, err := h.service.ListForItem(r.Context(), itemID, callerID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.views(reqs))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withRequest(w, r, func(id, callerID uuid.UUID) (*BorrowRequest, error) {
		return h.service.Get(r.Context(), id, callerID)
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body respondRequest
	if err := decodeOptional(r, &body); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.withRequest(w, r, func(id, callerID uuid.UUID) (*BorrowRequest, error) {
		return h.service.Approve(r.Context(), id, callerID, body.ResponseMessage)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var body respondRequest
	if err := decodeOptional(r, &body); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.withRequest(w, r, func(id, callerID uuid.UUID) (*BorrowRequest, error) {
		return h.service.Reject(r.Context(), id, callerID, body.ResponseMessage)
	})
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	var body rateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.withRequest(w, r, func(id, callerID uuid.UUID) (*BorrowRequest, error) {
		return h.service.Rate(r.Context(), id, callerID, *body.Rating, body.Feedback)
	})
}

// handleSimple serves a transition that takes no request body.
func (h *Handler) handleSimple(op func(ctx context.Context, requestID, callerID uuid.UUID) (*BorrowRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.withRequest(w, r, func(id, callerID uuid.UUID) (*BorrowRequest, error) {
			return op(r.Context(), id, callerID)
		})
	}
}

func (h *Handler) withRequest(w http.ResponseWriter, r *http.Request, fn func(id, callerID uuid.UUID) (*BorrowRequest, error)) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	req, err := fn(id, callerID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.view(req))
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Forbidden("missing caller"))
	}
	return id, ok
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return httpx.Validate(dst)
	}
	return httpx.DecodeJSON(r, dst)
}
