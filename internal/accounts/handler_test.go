package accounts

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*memoryRepo, chi.Router) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc)
	r := chi.NewRouter()
	r.Route("/accounts", h.MountRoutes)
	return repo, r
}

func doJSON(t *testing.T, r chi.Router, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAccountEndpoints(t *testing.T) {
	repo, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/accounts", map[string]any{
		"name":        "Everyday",
		"institution": "First Bank",
		"type":        "checking",
		"balance":     "750",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Balance.Equal(dec("750")))
	require.True(t, created.InitialBalance.Equal(dec("750")))

	rec = doJSON(t, router, http.MethodGet, "/accounts/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)

	rec = doJSON(t, router, http.MethodPatch, "/accounts/1", map[string]any{"name": "Daily"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "Daily", updated.Name)

	rec = doJSON(t, router, http.MethodDelete, "/accounts/1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, repo.accounts)

	rec = doJSON(t, router, http.MethodGet, "/accounts/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAccountEndpointValidation(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/accounts", map[string]any{
		"name": "Piggy",
		"type": "piggybank",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Fields, "type")
}

func TestDeleteAccountInUseEndpoint(t *testing.T) {
	repo, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/accounts", map[string]any{
		"name": "Busy", "type": "checking",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	repo.txnCount[1] = 2

	rec = doJSON(t, router, http.MethodDelete, "/accounts/1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, repo.accounts, 1)
}

func TestTotalsEndpoint(t *testing.T) {
	_, router := newTestRouter(t)

	for _, body := range []map[string]any{
		{"name": "A", "type": "checking", "balance": "100"},
		{"name": "B", "type": "credit", "balance": "-40"},
	} {
		rec := doJSON(t, router, http.MethodPost, "/accounts", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/accounts/totals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var totals Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	require.True(t, totals.TotalAssets.Equal(dec("100")))
	require.True(t, totals.TotalLiabilities.Equal(dec("40")))
	require.True(t, totals.NetWorth.Equal(dec("60")))
}
