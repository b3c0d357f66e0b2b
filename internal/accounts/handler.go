package accounts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/httpx"
	"github.com/tallyops/tally/internal/query"
	"github.com/tallyops/tally/internal/shared"
)

// Handler wires the account registry JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type createRequest struct {
	Name          string          `json:"name" validate:"required"`
	Institution   string          `json:"institution"`
	AccountNumber string          `json:"accountNumber"`
	Description   string          `json:"description"`
	Type          string          `json:"type" validate:"required,oneof=checking savings credit loan investment other"`
	Balance       decimal.Decimal `json:"balance"`
}

type listResponse struct {
	Data       []Account         `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// Create handles POST /accounts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acct, err := h.service.Create(r.Context(), CreateAccountInput{
		Name:          req.Name,
		Institution:   req.Institution,
		AccountNumber: req.AccountNumber,
		Description:   req.Description,
		Type:          AccountType(req.Type),
		Balance:       req.Balance,
	})
	if err != nil {
		h.respondError(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

// Get handles GET /accounts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	acct, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

// List handles GET /accounts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := ListQuery{
		Type:    AccountType(values.Get("type")),
		Search:  values.Get("q"),
		SortBy:  values.Get("sort"),
		SortDir: query.ParseDirection(values.Get("dir")),
	}
	if q.Type != "" && !q.Type.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown account type")
		return
	}
	if page, _ := strconv.Atoi(values.Get("page")); page > 0 {
		q.Page = page
	}
	if perPage, _ := strconv.Atoi(values.Get("pageSize")); perPage > 0 {
		q.PerPage = perPage
	}
	accts, pagination, err := h.service.List(r.Context(), q)
	if err != nil {
		h.respondError(w, "list accounts", err)
		return
	}
	if accts == nil {
		accts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Data: accts, Pagination: pagination})
}

// Update handles PATCH /accounts/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	var in UpdateAccountInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	acct, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.respondError(w, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

// Delete handles DELETE /accounts/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TotalsHandler handles GET /accounts/totals.
func (h *Handler) TotalsHandler(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context())
	if err != nil {
		h.respondError(w, "account totals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

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

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
