package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/julienbonastre/listing-copier/internal/compat"
	"github.com/julienbonastre/listing-copier/internal/copier"
	"github.com/julienbonastre/listing-copier/internal/database"
	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

type mockCopies struct{ mock.Mock }

func (m *mockCopies) CopyItems(ctx context.Context, req copier.CopyRequest) []copier.CopyResult {
	return m.Called(ctx, req).Get(0).([]copier.CopyResult)
}

func (m *mockCopies) CopyWithDimensions(ctx context.Context, src string, dests []string, itemID string, d copier.Dimensions) []copier.CopyResult {
	return m.Called(ctx, src, dests, itemID, d).Get(0).([]copier.CopyResult)
}

func (m *mockCopies) Preview(ctx context.Context, seller, itemID string) (*copier.Preview, error) {
	args := m.Called(ctx, seller, itemID)
	p, _ := args.Get(0).(*copier.Preview)
	return p, args.Error(1)
}

type mockCompat struct{ mock.Mock }

func (m *mockCompat) StartLog(ctx context.Context, src string, targets []compat.Target, skus []string) (*database.CompatLog, error) {
	args := m.Called(ctx, src, targets, skus)
	l, _ := args.Get(0).(*database.CompatLog)
	return l, args.Error(1)
}

func (m *mockCompat) CopyToTargets(ctx context.Context, src string, targets []compat.Target, skus []string, logID string) ([]compat.Result, error) {
	args := m.Called(ctx, src, targets, skus, logID)
	r, _ := args.Get(0).([]compat.Result)
	return r, args.Error(1)
}

func (m *mockCompat) SearchSKU(ctx context.Context, skus, allowed []string) ([]compat.SearchHit, error) {
	args := m.Called(ctx, skus, allowed)
	h, _ := args.Get(0).([]compat.SearchHit)
	return h, args.Error(1)
}

func (m *mockCompat) Preview(ctx context.Context, seller, itemID string) (*compat.ItemPreview, error) {
	args := m.Called(ctx, seller, itemID)
	p, _ := args.Get(0).(*compat.ItemPreview)
	return p, args.Error(1)
}

type stubStore struct {
	pingErr    error
	copyLogs   []database.CopyLog
	compatLogs []database.CompatLog
	gotLimit   int
	gotOffset  int
}

func (s *stubStore) ListSellers(context.Context) ([]database.Seller, error) {
	return []database.Seller{{Slug: "a", Name: "Store A", AccessToken: "secret"}}, nil
}

func (s *stubStore) ListCopyLogs(_ context.Context, limit, offset int) ([]database.CopyLog, error) {
	s.gotLimit, s.gotOffset = limit, offset
	return s.copyLogs, nil
}

func (s *stubStore) ListCompatLogs(_ context.Context, limit, offset int) ([]database.CompatLog, error) {
	s.gotLimit, s.gotOffset = limit, offset
	return s.compatLogs, nil
}

func (s *stubStore) PingContext(context.Context) error { return s.pingErr }

type fixture struct {
	copies *mockCopies
	compat *mockCompat
	store  *stubStore
	h      *Handler
	server http.Handler
}

func newFixture() *fixture {
	f := &fixture{copies: new(mockCopies), compat: new(mockCompat), store: &stubStore{}}
	f.h = NewHandler(f.copies, f.compat, f.store, zap.NewNop())
	f.server = f.h.Routes("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	}))
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSplitItemIDs(t *testing.T) {
	assert.Equal(t, []string{"MLB1", "MLB2", "MLB3"}, SplitItemIDs(" MLB1,MLB2\r\n\nMLB3 ,"))
	assert.Empty(t, SplitItemIDs(" , \n"))
}

func TestCopyValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{`, "Invalid request body"},
		{"no source", `{"destSellers":["b"],"itemIds":"MLB1"}`, "sourceSeller is required"},
		{"no destinations", `{"sourceSeller":"a","itemIds":"MLB1"}`, "at least one destination seller is required"},
		{"source in destinations", `{"sourceSeller":"a","destSellers":["b","a"],"itemIds":"MLB1"}`, "source seller cannot be a destination"},
		{"no items", `{"sourceSeller":"a","destSellers":["b"],"itemIds":" , "}`, "at least one item id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := f.do(http.MethodPost, "/api/copy", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
			f.copies.AssertNotCalled(t, "CopyItems", mock.Anything, mock.Anything)
		})
	}
}

func TestCopy(t *testing.T) {
	f := newFixture()
	want := copier.CopyRequest{
		SourceSeller: "a",
		DestSellers:  []string{"b", "c"},
		ItemIDs:      []string{"MLB1", "MLB2"},
		Operator:     "ops@example.com",
	}
	f.copies.On("CopyItems", mock.Anything, want).Return([]copier.CopyResult{
		{SourceItemID: "MLB1", DestSeller: "b", Status: copier.StatusSuccess, DestItemID: "NEW1"},
	})

	rec := f.do(http.MethodPost, "/api/copy",
		`{"sourceSeller":"a","destSellers":["b","c"],"itemIds":"MLB1\nMLB2"}`,
		OperatorHeader, "ops@example.com")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])
	first := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "NEW1", first["destItemId"])
	f.copies.AssertExpectations(t)
}

func TestCopyWithDimensions(t *testing.T) {
	f := newFixture()
	h := 10.0
	f.copies.On("CopyWithDimensions", mock.Anything, "a", []string{"b"}, "MLB1", copier.Dimensions{Height: &h}).
		Return([]copier.CopyResult{{SourceItemID: "MLB1", DestSeller: "b", Status: copier.StatusSuccess}})

	rec := f.do(http.MethodPost, "/api/copy/dimensions",
		`{"sourceSeller":"a","destSellers":["b"],"itemId":" MLB1 ","dimensions":{"height":10}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.copies.AssertExpectations(t)

	rec = f.do(http.MethodPost, "/api/copy/dimensions",
		`{"sourceSeller":"a","destSellers":["b"],"itemId":"MLB1","dimensions":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewCopy(t *testing.T) {
	f := newFixture()
	f.copies.On("Preview", mock.Anything, "a", "MLB1").Return(&copier.Preview{ID: "MLB1", Title: "Pads"}, nil)
	f.copies.On("Preview", mock.Anything, "a", "MLB404").
		Return(nil, &marketplace.APIError{StatusCode: 404, Method: "GET", URL: "/items/MLB404", Detail: "not_found"})

	rec := f.do(http.MethodGet, "/api/copy/preview/MLB1?seller=a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pads", decode(t, rec)["title"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/copy/preview/MLB404?seller=a", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/copy/preview/MLB1", "").Code)
}

func TestPreviewCompatUpstreamError(t *testing.T) {
	f := newFixture()
	f.compat.On("Preview", mock.Anything, "", "MLB1").Return(nil, errors.New("connection reset"))

	rec := f.do(http.MethodGet, "/api/compat/preview/MLB1", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSearchSKU(t *testing.T) {
	f := newFixture()
	f.compat.On("SearchSKU", mock.Anything, []string{"SKU1"}, []string(nil)).
		Return([]compat.SearchHit{{SellerSlug: "a", ItemID: "MLB1", SKU: "SKU1"}}, nil)
	f.compat.On("SearchSKU", mock.Anything, []string{"SKU2"}, []string{"b"}).Return(nil, nil)

	rec := f.do(http.MethodPost, "/api/compat/search-sku", `{"skus":[" SKU1 ",""]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = f.do(http.MethodPost, "/api/compat/search-sku", `{"skus":["SKU2"],"sellers":["b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["results"])

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/compat/search-sku", `{"skus":[]}`).Code)
	f.compat.AssertExpectations(t)
}

func TestCopyCompatQueuesJob(t *testing.T) {
	f := newFixture()
	targets := []compat.Target{{SellerSlug: "b", ItemID: "MLB2"}}
	f.compat.On("StartLog", mock.Anything, "MLB1", targets, []string{"SKU1"}).
		Return(&database.CompatLog{ID: "log-1"}, nil)
	f.compat.On("CopyToTargets", mock.Anything, "MLB1", targets, []string{"SKU1"}, "log-1").
		Return([]compat.Result{{SellerSlug: "b", ItemID: "MLB2", Status: compat.StatusOK}}, nil)

	rec := f.do(http.MethodPost, "/api/compat/copy",
		`{"sourceItemId":"MLB1","targets":[{"sellerSlug":"b","itemId":"MLB2"}],"skus":["SKU1"]}`)
	f.h.Wait()

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "log-1", body["logId"])
	assert.EqualValues(t, 1, body["totalTargets"])
	f.compat.AssertExpectations(t)
}

func TestCopyCompatValidation(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/compat/copy", `{"targets":[{"sellerSlug":"b","itemId":"X"}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/compat/copy", `{"sourceItemId":"MLB1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/compat/copy", `{"sourceItemId":"MLB1","targets":[{"sellerSlug":"b"}]}`).Code)
	f.compat.AssertNotCalled(t, "StartLog", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLogsPagination(t *testing.T) {
	f := newFixture()
	f.store.copyLogs = []database.CopyLog{{ID: "c1", Status: database.StatusSuccess}}

	rec := f.do(http.MethodGet, "/api/copy/logs?limit=500&offset=-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, f.store.gotLimit)
	assert.Equal(t, 0, f.store.gotOffset)
	assert.Len(t, decode(t, rec)["logs"], 1)

	rec = f.do(http.MethodGet, "/api/compat/logs?limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.store.gotLimit)
	assert.Equal(t, 10, f.store.gotOffset)
	assert.Equal(t, []any{}, decode(t, rec)["logs"])
}

func TestSellersHideCredentials(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/sellers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "Store A")
}

func TestHealthCheck(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	f.store.pingErr = errors.New("database is locked")
	rec = f.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["database"])
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.Equal(t, "/x", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic while serving request").Len())
}
