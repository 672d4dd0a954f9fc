package expenses

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/rbac"
	"github.com/expenseflow/expenseflow/internal/rules"
	"github.com/expenseflow/expenseflow/internal/shared"
)

type fakeIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]bool)}
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	delete(f.keys, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func submitRequest(t *testing.T, h *Handler, expenseID, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/expenses/"+expenseID+"/submit", nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	sess := &shared.Session{}
	sess.Authenticate(7, 1, "EMPLOYEE")
	ctx := shared.ContextWithSession(req.Context(), sess)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", expenseID)
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)

	rec := httptest.NewRecorder()
	h.submit(rec, req.WithContext(ctx))
	return rec
}

func TestSubmitReleasesIdempotencyKeyOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	flows := &stubFlows{startErr: rules.ErrNoMatchingRule}
	svc, _ := newTestService(repo, flows, acme())
	idem := newFakeIdempotency()
	h := NewHandler(slog.New(slog.DiscardHandler), svc, idem, rbac.Middleware{})

	draft, err := svc.Create(context.Background(), 7, 1, CreateInput{
		Category:         "Travel",
		OriginalAmount:   100,
		OriginalCurrency: "USD",
	})
	require.NoError(t, err)

	rec := submitRequest(t, h, draft.ID.String(), "retry-me")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"retry-me"}, idem.deleted)

	// once the cause is fixed the same key goes through
	flows.startErr = nil
	rec = submitRequest(t, h, draft.ID.String(), "retry-me")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, idem.keys["retry-me"])

	// a completed submission keeps its key and replays as a conflict
	rec = submitRequest(t, h, draft.ID.String(), "retry-me")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
