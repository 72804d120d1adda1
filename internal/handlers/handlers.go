package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/julienbonastre/listing-copier/internal/compat"
	"github.com/julienbonastre/listing-copier/internal/copier"
	"github.com/julienbonastre/listing-copier/internal/database"
	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// OperatorHeader carries the identity of the person triggering a copy.
// Authentication happens in front of this service.
const OperatorHeader = "X-Operator-Email"

// CopyService copies listings
type CopyService interface {
	CopyItems(ctx context.Context, req copier.CopyRequest) []copier.CopyResult
	CopyWithDimensions(ctx context.Context, sourceSeller string, destSellers []string, itemID string, d copier.Dimensions) []copier.CopyResult
	Preview(ctx context.Context, seller, itemID string) (*copier.Preview, error)
}

// CompatService copies vehicle compatibilities
type CompatService interface {
	StartLog(ctx context.Context, sourceItemID string, targets []compat.Target, skus []string) (*database.CompatLog, error)
	CopyToTargets(ctx context.Context, sourceItemID string, targets []compat.Target, skus []string, logID string) ([]compat.Result, error)
	SearchSKU(ctx context.Context, skus, allowedSellers []string) ([]compat.SearchHit, error)
	Preview(ctx context.Context, seller, itemID string) (*compat.ItemPreview, error)
}

// Store is the persistence the handlers read from
type Store interface {
	ListSellers(ctx context.Context) ([]database.Seller, error)
	ListCopyLogs(ctx context.Context, limit, offset int) ([]database.CopyLog, error)
	ListCompatLogs(ctx context.Context, limit, offset int) ([]database.CompatLog, error)
	PingContext(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	copies  CopyService
	compat  CompatService
	store   Store
	logger  *zap.Logger
	pending sync.WaitGroup
}

// NewHandler creates a new handler
func NewHandler(copies CopyService, compatSvc CompatService, store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		copies: copies,
		compat: compatSvc,
		store:  store,
		logger: logger,
	}
}

// Wait blocks until queued background jobs have finished.
func (h *Handler) Wait() {
	h.pending.Wait()
}

// Routes builds the router. metrics may be nil.
func (h *Handler) Routes(metricsPath string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)
		r.Get("/sellers", h.GetSellers)

		r.Post("/copy", h.Copy)
		r.Post("/copy/dimensions", h.CopyWithDimensions)
		r.Get("/copy/logs", h.GetCopyLogs)
		r.Get("/copy/preview/{itemID}", h.PreviewCopy)

		r.Get("/compat/preview/{itemID}", h.PreviewCompat)
		r.Post("/compat/search-sku", h.SearchSKU)
		r.Post("/compat/copy", h.CopyCompat)
		r.Get("/compat/logs", h.GetCompatLogs)
	})

	if metrics != nil {
		r.Method(http.MethodGet, metricsPath, metrics)
	}
	return r
}

// JSON response helper
func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Error encoding JSON", zap.Error(err))
	}
}

// Error response helper
func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// upstreamError maps a marketplace failure onto an HTTP status.
func (h *Handler) upstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketplace.ErrNotFound):
		h.errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, marketplace.ErrUnauthenticated):
		h.errorResponse(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, marketplace.ErrRateLimited):
		h.errorResponse(w, http.StatusTooManyRequests, err.Error())
	default:
		h.errorResponse(w, http.StatusBadGateway, err.Error())
	}
}

// HealthCheck returns API health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := http.StatusOK
	if err := h.store.PingContext(r.Context()); err != nil {
		h.logger.Error("Database ping failed", zap.Error(err))
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}
	h.jsonResponse(w, status, map[string]string{
		"status":   strings.ToLower(http.StatusText(status)),
		"database": dbStatus,
	})
}

// GetSellers returns connected sellers without credentials
func (h *Handler) GetSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := h.store.ListSellers(r.Context())
	if err != nil {
		h.logger.Error("ListSellers failed", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sellers == nil {
		sellers = []database.Seller{}
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"sellers": sellers,
		"total":   len(sellers),
	})
}

// CopyRequest is the request body for the copy endpoint
type CopyRequest struct {
	SourceSeller string   `json:"sourceSeller"`
	DestSellers  []string `json:"destSellers"`
	// ItemIDs may hold several ids separated by commas or newlines.
	ItemIDs string `json:"itemIds"`
}

// SplitItemIDs splits raw on commas and newlines, dropping blanks.
func SplitItemIDs(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ids = append(ids, f)
		}
	}
	return ids
}

func validateSellers(source string, dests []string) string {
	if source == "" {
		return "sourceSeller is required"
	}
	if len(dests) == 0 {
		return "at least one destination seller is required"
	}
	for _, d := range dests {
		if d == source {
			return "source seller cannot be a destination"
		}
	}
	return ""
}

// Copy copies listings to destination sellers
func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := validateSellers(req.SourceSeller, req.DestSellers); msg != "" {
		h.errorResponse(w, http.StatusBadRequest, msg)
		return
	}
	ids := SplitItemIDs(req.ItemIDs)
	if len(ids) == 0 {
		h.errorResponse(w, http.StatusBadRequest, "at least one item id is required")
		return
	}

	operator := r.Header.Get(OperatorHeader)
	h.logger.Info("Copy requested",
		zap.String("operator", operator),
		zap.String("source_seller", req.SourceSeller),
		zap.Strings("dest_sellers", req.DestSellers),
		zap.Int("items", len(ids)))

	results := h.copies.CopyItems(r.Context(), copier.CopyRequest{
		SourceSeller: req.SourceSeller,
		DestSellers:  req.DestSellers,
		ItemIDs:      ids,
		Operator:     operator,
	})
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// DimensionsRequest is the request body for re-copying an item with package dimensions
type DimensionsRequest struct {
	SourceSeller string            `json:"sourceSeller"`
	DestSellers  []string          `json:"destSellers"`
	ItemID       string            `json:"itemId"`
	Dimensions   copier.Dimensions `json:"dimensions"`
}

// CopyWithDimensions applies dimensions to the source item and copies it again
func (h *Handler) CopyWithDimensions(w http.ResponseWriter, r *http.Request) {
	var req DimensionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateSellers(req.SourceSeller, req.DestSellers); msg != "" {
		h.errorResponse(w, http.StatusBadRequest, msg)
		return
	}
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		h.errorResponse(w, http.StatusBadRequest, "itemId is required")
		return
	}
	if len(copier.DimensionAttributes(req.Dimensions)) == 0 {
		h.errorResponse(w, http.StatusBadRequest, "at least one dimension is required")
		return
	}

	results := h.copies.CopyWithDimensions(r.Context(), req.SourceSeller, req.DestSellers, req.ItemID, req.Dimensions)
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetCopyLogs returns copy history, newest first
func (h *Handler) GetCopyLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	logs, err := h.store.ListCopyLogs(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("ListCopyLogs failed", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []database.CopyLog{}
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

// PreviewCopy summarises a source item
func (h *Handler) PreviewCopy(w http.ResponseWriter, r *http.Request) {
	seller := r.URL.Query().Get("seller")
	if seller == "" {
		h.errorResponse(w, http.StatusBadRequest, "seller query parameter is required")
		return
	}
	p, err := h.copies.Preview(r.Context(), seller, chi.URLParam(r, "itemID"))
	if err != nil {
		h.upstreamError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, p)
}

// PreviewCompat summarises the compatibilities of an item
func (h *Handler) PreviewCompat(w http.ResponseWriter, r *http.Request) {
	p, err := h.compat.Preview(r.Context(), r.URL.Query().Get("seller"), chi.URLParam(r, "itemID"))
	if err != nil {
		h.upstreamError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, p)
}

// SearchSKURequest is the request body for the SKU search
type SearchSKURequest struct {
	SKUs []string `json:"skus"`
	// Sellers restricts the search; empty searches every connected seller.
	Sellers []string `json:"sellers,omitempty"`
}

// SearchSKU finds items by SKU across sellers
func (h *Handler) SearchSKU(w http.ResponseWriter, r *http.Request) {
	var req SearchSKURequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var skus []string
	for _, s := range req.SKUs {
		if s = strings.TrimSpace(s); s != "" {
			skus = append(skus, s)
		}
	}
	if len(skus) == 0 {
		h.errorResponse(w, http.StatusBadRequest, "at least one SKU is required")
		return
	}

	var allowed []string
	if len(req.Sellers) > 0 {
		allowed = req.Sellers
	}
	hits, err := h.compat.SearchSKU(r.Context(), skus, allowed)
	if err != nil {
		h.logger.Error("SearchSKU failed", zap.Strings("skus", skus), zap.Error(err))
		h.upstreamError(w, err)
		return
	}
	if hits == nil {
		hits = []compat.SearchHit{}
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"results": hits,
		"total":   len(hits),
	})
}

// CompatCopyRequest is the request body for copying compatibilities
type CompatCopyRequest struct {
	SourceItemID string          `json:"sourceItemId"`
	Targets      []compat.Target `json:"targets"`
	SKUs         []string        `json:"skus,omitempty"`
}

// CopyCompat queues a compatibility copy and returns its log id
func (h *Handler) CopyCompat(w http.ResponseWriter, r *http.Request) {
	var req CompatCopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SourceItemID = strings.TrimSpace(req.SourceItemID)
	if req.SourceItemID == "" {
		h.errorResponse(w, http.StatusBadRequest, "sourceItemId is required")
		return
	}
	if len(req.Targets) == 0 {
		h.errorResponse(w, http.StatusBadRequest, "at least one target is required")
		return
	}
	for _, t := range req.Targets {
		if t.SellerSlug == "" || t.ItemID == "" {
			h.errorResponse(w, http.StatusBadRequest, "every target needs sellerSlug and itemId")
			return
		}
	}

	entry, err := h.compat.StartLog(r.Context(), req.SourceItemID, req.Targets, req.SKUs)
	if err != nil {
		h.logger.Error("Failed to create compat log", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		if _, err := h.compat.CopyToTargets(ctx, req.SourceItemID, req.Targets, req.SKUs, entry.ID); err != nil {
			h.logger.Error("Compat copy aborted",
				zap.String("log_id", entry.ID),
				zap.String("source_item_id", req.SourceItemID),
				zap.Error(err))
		}
	}()

	h.jsonResponse(w, http.StatusAccepted, map[string]any{
		"status":       "queued",
		"totalTargets": len(req.Targets),
		"logId":        entry.ID,
	})
}

// GetCompatLogs returns compat history, newest first
func (h *Handler) GetCompatLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	logs, err := h.store.ListCompatLogs(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("ListCompatLogs failed", zap.Error(err))
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []database.CompatLog{}
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}
