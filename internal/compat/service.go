package compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/julienbonastre/listing-copier/internal/database"
	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// Target outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// searchConcurrency bounds parallel SKU lookups.
const searchConcurrency = 8

// Target is an item that should receive the source compatibilities.
type Target struct {
	SellerSlug string `json:"sellerSlug"`
	ItemID     string `json:"itemId"`
}

// Result is the outcome of copying compatibilities onto one target.
type Result struct {
	SellerSlug string `json:"sellerSlug"`
	ItemID     string `json:"itemId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// SearchHit is an item found by SKU.
type SearchHit struct {
	SellerSlug string `json:"sellerSlug"`
	SellerName string `json:"sellerName"`
	ItemID     string `json:"itemId"`
	SKU        string `json:"sku"`
	Title      string `json:"title"`
}

// ItemPreview summarises the compatibilities of an item.
type ItemPreview struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Thumbnail          string `json:"thumbnail"`
	HasCompatibilities bool   `json:"hasCompatibilities"`
	CompatCount        int    `json:"compatCount"`
}

// SellerDirectory lists connected sellers.
type SellerDirectory interface {
	ListSellers(ctx context.Context) ([]database.Seller, error)
}

// LogStore persists compat runs.
type LogStore interface {
	CreateCompatLog(ctx context.Context, l *database.CompatLog) error
	UpdateCompatLog(ctx context.Context, l *database.CompatLog) error
	InsertAPIDebugLog(ctx context.Context, l *database.APIDebugLog) error
}

// Publisher emits outcome events.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Metrics records compat outcomes.
type Metrics interface {
	CompatCompleted(status string)
}

// Service copies compatibilities to many targets and finds targets by SKU.
type Service struct {
	api     API
	copier  *Copier
	sellers SellerDirectory
	logs    LogStore
	events  Publisher
	metrics Metrics
	pacing  time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Pacing  time.Duration
	Events  Publisher
	Metrics Metrics
}

// NewService creates a compat service
func NewService(api API, copier *Copier, sellers SellerDirectory, logs LogStore, logger *zap.Logger, opts ServiceOptions) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		api:     api,
		copier:  copier,
		sellers: sellers,
		logs:    logs,
		events:  opts.Events,
		metrics: opts.Metrics,
		pacing:  opts.Pacing,
		sleep:   sleepContext,
		logger:  logger,
	}
}

// StartLog records an in-progress compat run with pending targets.
func (s *Service) StartLog(ctx context.Context, sourceItemID string, targets []Target, skus []string) (*database.CompatLog, error) {
	pending := make([]database.CompatTarget, len(targets))
	for i, t := range targets {
		pending[i] = database.CompatTarget{SellerSlug: t.SellerSlug, ItemID: t.ItemID, Status: "pending"}
	}
	l := &database.CompatLog{
		SourceItemID: sourceItemID,
		SKUs:         skus,
		Targets:      pending,
		TotalTargets: len(targets),
		Status:       database.StatusInProgress,
	}
	if err := s.logs.CreateCompatLog(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ResolveSourceSeller returns the connected seller that owns itemID.
func (s *Service) ResolveSourceSeller(ctx context.Context, itemID string) (string, error) {
	sellers, err := s.sellers.ListSellers(ctx)
	if err != nil {
		return "", fmt.Errorf("list sellers: %w", err)
	}
	for _, seller := range sellers {
		if !seller.Active {
			continue
		}
		if _, err := s.api.GetItem(ctx, seller.Slug, itemID); err == nil {
			return seller.Slug, nil
		}
	}
	return "", fmt.Errorf("%w: no connected seller owns item %s", marketplace.ErrNotFound, itemID)
}

// CopyToTargets copies the compatibilities of sourceItemID to every target in order,
// pausing between targets. When logID names an existing compat log it is updated,
// otherwise a new log row is written.
func (s *Service) CopyToTargets(ctx context.Context, sourceItemID string, targets []Target, skus []string, logID string) ([]Result, error) {
	var opts Options
	sourceSeller, err := s.ResolveSourceSeller(ctx, sourceItemID)
	if err != nil {
		s.logger.Warn("Source seller not resolved", zap.String("source_item_id", sourceItemID), zap.Error(err))
	} else {
		compat, err := s.api.GetItemCompatibilities(ctx, sourceSeller, sourceItemID)
		if err != nil {
			s.logger.Warn("Could not pre-fetch source compatibilities",
				zap.String("source_item_id", sourceItemID), zap.Error(err))
		} else if compat != nil {
			opts.SourceProducts = compat.Products
		}
	}

	results := make([]Result, 0, len(targets))
	var success, failed int
	for i, t := range targets {
		if i > 0 && s.pacing > 0 {
			if err := s.sleep(ctx, s.pacing); err != nil {
				for _, rest := range targets[i:] {
					results = append(results, Result{SellerSlug: rest.SellerSlug, ItemID: rest.ItemID, Status: StatusError, Error: err.Error()})
					failed++
				}
				s.logger.Warn("Compatibility copy interrupted",
					zap.String("source_item_id", sourceItemID),
					zap.Int("skipped", len(targets)-i),
					zap.Error(err))
				s.finishLog(context.WithoutCancel(ctx), sourceItemID, targets, skus, logID, results, success, failed)
				return results, err
			}
		}

		r := Result{SellerSlug: t.SellerSlug, ItemID: t.ItemID, Status: StatusOK}
		if err := s.copier.CopyCompatibilities(ctx, t.SellerSlug, t.ItemID, sourceItemID, opts); err != nil {
			s.logger.Error("Failed to copy compatibilities",
				zap.String("source_item_id", sourceItemID),
				zap.String("dest_seller", t.SellerSlug),
				zap.String("dest_item_id", t.ItemID),
				zap.Error(err))
			r.Status, r.Error = StatusError, err.Error()
			failed++
			s.recordAPIError(ctx, sourceSeller, sourceItemID, t, logID, err)
		} else {
			success++
		}
		if s.metrics != nil {
			s.metrics.CompatCompleted(r.Status)
		}
		results = append(results, r)
	}

	s.finishLog(ctx, sourceItemID, targets, skus, logID, results, success, failed)

	if s.events != nil {
		event := map[string]any{"sourceItemId": sourceItemID, "logId": logID, "results": results}
		if err := s.events.Publish(ctx, "compat.completed", event); err != nil {
			s.logger.Warn("Failed to publish compat event", zap.Error(err))
		}
	}

	return results, nil
}

func (s *Service) finishLog(ctx context.Context, sourceItemID string, targets []Target, skus []string, logID string, results []Result, success, failed int) {
	status := database.StatusPartial
	switch {
	case failed == 0:
		status = database.StatusSuccess
	case success == 0:
		status = database.StatusError
	}

	stored := make([]database.CompatTarget, len(results))
	for i, r := range results {
		stored[i] = database.CompatTarget{SellerSlug: r.SellerSlug, ItemID: r.ItemID, Status: r.Status, Error: r.Error}
	}

	l := &database.CompatLog{
		ID:           logID,
		SourceItemID: sourceItemID,
		SKUs:         skus,
		Targets:      stored,
		TotalTargets: len(targets),
		SuccessCount: success,
		ErrorCount:   failed,
		Status:       status,
	}

	var err error
	if logID != "" {
		err = s.logs.UpdateCompatLog(ctx, l)
	}
	if logID == "" || errors.Is(err, database.ErrLogNotFound) {
		err = s.logs.CreateCompatLog(ctx, l)
	}
	if err != nil {
		s.logger.Error("Failed to write compat log", zap.String("source_item_id", sourceItemID), zap.Error(err))
	}
}

func (s *Service) recordAPIError(ctx context.Context, sourceSeller, sourceItemID string, t Target, logID string, cause error) {
	entry := &database.APIDebugLog{
		Action:       "copy_compat_to_target",
		SourceSeller: sourceSeller,
		DestSeller:   t.SellerSlug,
		SourceItemID: sourceItemID,
		DestItemID:   t.ItemID,
		LogID:        logID,
		ErrorMessage: cause.Error(),
	}
	if apiErr, ok := marketplace.AsAPIError(cause); ok {
		entry.Method, entry.URL, entry.ResponseStatus = apiErr.Method, apiErr.URL, apiErr.StatusCode
		if apiErr.Payload != nil {
			entry.ResponseBody, _ = json.Marshal(apiErr.Payload)
		}
	}
	if err := s.logs.InsertAPIDebugLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to store API debug log", zap.Error(err))
	}
}

// SearchSKU finds items carrying any of skus across connected sellers. allowedSellers
// restricts the search when non-nil. Title lookups that fail leave the title empty.
func (s *Service) SearchSKU(ctx context.Context, skus, allowedSellers []string) ([]SearchHit, error) {
	sellers, err := s.sellers.ListSellers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sellers: %w", err)
	}

	if allowedSellers != nil {
		allowed := make(map[string]bool, len(allowedSellers))
		for _, slug := range allowedSellers {
			allowed[slug] = true
		}
		filtered := sellers[:0]
		for _, seller := range sellers {
			if allowed[seller.Slug] {
				filtered = append(filtered, seller)
			}
		}
		sellers = filtered
	}

	type query struct {
		seller database.Seller
		sku    string
		hits   []SearchHit
	}
	queries := make([]*query, 0, len(sellers)*len(skus))
	for _, seller := range sellers {
		for _, sku := range skus {
			queries = append(queries, &query{seller: seller, sku: sku})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for _, q := range queries {
		g.Go(func() error {
			ids, err := s.api.SearchItemsBySKU(gctx, q.seller.Slug, q.seller.UserID, q.sku)
			if err != nil {
				return fmt.Errorf("search %s on %s: %w", q.sku, q.seller.Slug, err)
			}
			for _, id := range ids {
				hit := SearchHit{SellerSlug: q.seller.Slug, SellerName: q.seller.Name, ItemID: id, SKU: q.sku}
				if item, err := s.api.GetItem(gctx, q.seller.Slug, id); err != nil {
					s.logger.Warn("Failed to fetch item title", zap.String("item_id", id), zap.Error(err))
				} else {
					hit.Title = item.Title.String()
				}
				q.hits = append(q.hits, hit)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, q := range queries {
		hits = append(hits, q.hits...)
	}
	return hits, nil
}

// Preview returns compatibility information for an item. An empty seller selects
// the first connected seller.
func (s *Service) Preview(ctx context.Context, seller, itemID string) (*ItemPreview, error) {
	if seller == "" {
		sellers, err := s.sellers.ListSellers(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sellers: %w", err)
		}
		if len(sellers) == 0 {
			return nil, errors.New("no connected sellers found")
		}
		seller = sellers[0].Slug
	}

	item, err := s.api.GetItem(ctx, seller, itemID)
	if err != nil {
		return nil, err
	}

	p := &ItemPreview{ID: item.ID, Title: item.Title.String(), Thumbnail: item.SecureThumbnail}
	if p.Thumbnail == "" {
		p.Thumbnail = item.Thumbnail
	}

	if compat, err := s.api.GetItemCompatibilities(ctx, seller, itemID); err == nil {
		p.HasCompatibilities = compat.HasProducts()
		if compat != nil {
			p.CompatCount = len(compat.Products)
		}
	}
	return p, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
