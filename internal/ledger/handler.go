package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/httpx"
	"github.com/tallyops/tally/internal/query"
	"github.com/tallyops/tally/internal/shared"
)

// Handler wires the ledger JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cache     *Cache
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. cache may be nil.
func NewHandler(logger *slog.Logger, service *Service, cache *Cache) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		cache:     cache,
		validator: validator.New(),
	}
}

type transactionRequest struct {
	Type        string          `json:"type" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category" validate:"required"`
	Reference   string          `json:"reference"`
	Notes       string          `json:"notes"`
	Date        time.Time       `json:"date"`
}

func (req transactionRequest) toInput() TransactionInput {
	return TransactionInput{
		Type:        TxnType(req.Type),
		Amount:      req.Amount,
		Description: req.Description,
		Category:    req.Category,
		Reference:   req.Reference,
		Notes:       req.Notes,
		Date:        req.Date,
	}
}

type transferRequest struct {
	FromAccountID int64           `json:"fromAccountId" validate:"required"`
	ToAccountID   int64           `json:"toAccountId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

type listResponse struct {
	Data       []Transaction     `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// Create handles POST /accounts/{id}/transactions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	txn, err := h.service.Add(r.Context(), accountID, req.toInput())
	if err != nil {
		h.respondError(w, "add transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

// Update handles PATCH /transactions/{id}. The edit is a full replace of the
// mutable fields, never of id or accountId.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	txn, err := h.service.Edit(r.Context(), id, req.toInput())
	if err != nil {
		h.respondError(w, "edit transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

// Delete handles DELETE /transactions/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /transactions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	txn, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

// List handles GET /accounts/{id}/transactions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	q, err := parseListQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	txns, pagination, err := h.service.List(r.Context(), accountID, q)
	if err != nil {
		h.respondError(w, "list transactions", err)
		return
	}
	if txns == nil {
		txns = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: txns, Pagination: pagination})
}

// Summary handles GET /accounts/{id}/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	loader := func(ctx context.Context) (Summary, error) {
		return h.service.LedgerSummary(ctx, accountID)
	}
	var summary Summary
	if h.cache != nil {
		summary, err = h.cache.Summary(r.Context(), accountID, loader)
	} else {
		summary, err = loader(r.Context())
	}
	if err != nil {
		h.respondError(w, "account summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

// Transfer handles POST /transfers.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

// validateStruct runs the request struct through go-playground/validator and
// converts any failures to the shared field-error shape.
func (h *Handler) validateStruct(req any) error {
	err := h.validator.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fieldErr := range verrs {
		name := strings.ToLower(fieldErr.Field()[:1]) + fieldErr.Field()[1:]
		fields[name] = "failed " + fieldErr.Tag() + " validation"
	}
	return httpx.NewFieldErrors(fields)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func parseListQuery(r *http.Request) (ListQuery, error) {
	values := r.URL.Query()
	q := ListQuery{
		Search:  values.Get("q"),
		SortBy:  values.Get("sort"),
		SortDir: query.ParseDirection(values.Get("dir")),
	}
	if t := values.Get("type"); t != "" {
		typ := TxnType(t)
		if !typ.Valid() {
			return ListQuery{}, &badQueryError{"unknown transaction type " + strconv.Quote(t)}
		}
		q.Type = typ
	}
	bucket, err := query.ParseDateBucket(values.Get("dateBucket"))
	if err != nil {
		return ListQuery{}, err
	}
	q.DateBucket = bucket
	if page, _ := strconv.Atoi(values.Get("page")); page > 0 {
		q.Page = page
	}
	if perPage, _ := strconv.Atoi(values.Get("pageSize")); perPage > 0 {
		q.PerPage = perPage
	}
	return q, nil
}

type badQueryError struct{ msg string }

func (e *badQueryError) Error() string { return e.msg }
