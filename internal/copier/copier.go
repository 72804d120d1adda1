// Package copier copies marketplace listings between seller accounts, repairing
// the create payload when the marketplace rejects it.
package copier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/julienbonastre/listing-copier/internal/compat"
	"github.com/julienbonastre/listing-copier/internal/database"
	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

// DefaultMaxAttempts bounds create submissions per (item, destination) pair. Larger
// values passed in Options are clamped to it.
const DefaultMaxAttempts = 4

// Marketplace is the subset of the marketplace client used for copying.
type Marketplace interface {
	GetItem(ctx context.Context, seller, itemID string) (*marketplace.Listing, error)
	GetItemDescription(ctx context.Context, seller, itemID string) (*marketplace.Description, error)
	GetItemCompatibilities(ctx context.Context, seller, itemID string) (*marketplace.Compatibilities, error)
	CreateItem(ctx context.Context, seller string, payload any) (*marketplace.CreatedItem, error)
	UpdateItem(ctx context.Context, seller, itemID string, payload any) error
	SetItemDescription(ctx context.Context, seller, itemID, plainText string) error
}

// CompatCopier copies compatibilities onto a freshly created item.
type CompatCopier interface {
	CopyCompatibilities(ctx context.Context, destSeller, destItemID, sourceItemID string, opts compat.Options) error
}

// LogStore persists copy runs.
type LogStore interface {
	CreateCopyLog(ctx context.Context, l *database.CopyLog) error
	UpdateCopyLog(ctx context.Context, l *database.CopyLog) error
	InsertAPIDebugLog(ctx context.Context, l *database.APIDebugLog) error
}

// Publisher emits outcome events.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Metrics records copy activity.
type Metrics interface {
	CopyCompleted(status string)
	SubmissionAttempted()
	PayloadAdjusted(action string)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	MaxAttempts int
	Concurrency int
	Classifier  Classifier
	Compat      CompatCopier
	Logs        LogStore
	Events      Publisher
	Metrics     Metrics
}

// Service copies listings between sellers.
type Service struct {
	api         Marketplace
	classifier  Classifier
	compat      CompatCopier
	logs        LogStore
	events      Publisher
	metrics     Metrics
	maxAttempts int
	concurrency int
	logger      *zap.Logger
}

// NewService creates a copy service
func NewService(api Marketplace, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 || opts.MaxAttempts > DefaultMaxAttempts {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Classifier == nil {
		opts.Classifier = TextClassifier{}
	}
	return &Service{
		api:         api,
		classifier:  opts.Classifier,
		compat:      opts.Compat,
		logs:        opts.Logs,
		events:      opts.Events,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// Decision is the next step after a rejected submission.
type Decision struct {
	State   State
	Payload Payload
	Actions []string
}

// NextPayload decides how to react to a rejected submission. It returns
// StateAdjusting with a repaired payload, StateSafeModeRetry with the safe payload,
// or StateFailed when nothing else can be tried.
func NextPayload(classifier Classifier, current Payload, l *marketplace.Listing, err error, safeModeUsed bool) Decision {
	adjusted, actions := AdjustPayload(current, l, classifier.Classify(err))
	if len(actions) > 0 && !adjusted.Equal(current) {
		return Decision{State: StateAdjusting, Payload: adjusted, Actions: actions}
	}

	if !safeModeUsed {
		safe := SafePayload(l)
		if !safe.Equal(current) {
			return Decision{State: StateSafeModeRetry, Payload: safe}
		}
	}

	return Decision{State: StateFailed, Payload: current}
}

// CopySingleItem copies one item from sourceSeller to destSeller.
// Failures are reported in the result, never as an error.
func (s *Service) CopySingleItem(ctx context.Context, sourceSeller, destSeller, itemID string) CopyResult {
	return s.copySingle(ctx, sourceSeller, destSeller, itemID, "")
}

func (s *Service) copySingle(ctx context.Context, sourceSeller, destSeller, itemID, logID string) CopyResult {
	result := CopyResult{SourceItemID: itemID, DestSeller: destSeller}
	log := s.logger.With(
		zap.String("source_seller", sourceSeller),
		zap.String("dest_seller", destSeller),
		zap.String("source_item_id", itemID))

	destItemID, err := s.createCopy(ctx, log, sourceSeller, destSeller, itemID)
	switch {
	case err == nil:
		result.Status, result.DestItemID = StatusSuccess, destItemID
		log.Info("Item copied", zap.String("dest_item_id", destItemID), zap.String("state", string(StateSuccess)))
	case s.classifier.IsDimensionsError(err):
		result.Status, result.Error = StatusNeedsDimensions, needsDimensionsMessage
		log.Warn("Copy blocked by missing dimensions", zap.String("state", string(StateNeedsDimensions)), zap.Error(err))
		s.recordAPIError(ctx, "copy_item", sourceSeller, destSeller, itemID, "", logID, err)
	default:
		result.Status, result.Error = StatusError, err.Error()
		log.Error("Copy failed", zap.String("state", string(StateFailed)), zap.Error(err))
		s.recordAPIError(ctx, "copy_item", sourceSeller, destSeller, itemID, "", logID, err)
	}

	if s.metrics != nil {
		s.metrics.CopyCompleted(result.Status)
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, "copy.completed", result); err != nil {
			log.Warn("Failed to publish copy event", zap.Error(err))
		}
	}
	return result
}

// createCopy runs the fetch, build, submit and repair cycle and returns the new item id.
func (s *Service) createCopy(ctx context.Context, log *zap.Logger, sourceSeller, destSeller, itemID string) (string, error) {
	item, err := s.api.GetItem(ctx, sourceSeller, itemID)
	if err != nil {
		return "", fmt.Errorf("fetch source item: %w", err)
	}

	desc, err := s.api.GetItemDescription(ctx, sourceSeller, itemID)
	if err != nil {
		return "", fmt.Errorf("fetch source description: %w", err)
	}

	var sourceCompat *marketplace.Compatibilities
	if c, err := s.api.GetItemCompatibilities(ctx, sourceSeller, itemID); err != nil {
		log.Warn("Could not fetch compatibilities", zap.Error(err))
	} else {
		sourceCompat = c
	}

	log.Debug("Building payload", zap.String("state", string(StateBuilding)))
	payload := BuildPayload(item, false)

	created, err := s.submit(ctx, log, destSeller, item, payload)
	if err != nil {
		return "", err
	}

	if desc.PlainText != "" {
		if err := s.api.SetItemDescription(ctx, destSeller, created.ID, desc.PlainText); err != nil {
			log.Warn("Failed to set description", zap.String("dest_item_id", created.ID), zap.Error(err))
		}
	}

	if sourceCompat.HasProducts() && s.compat != nil {
		opts := compat.Options{SourceProducts: sourceCompat.Products, Mode: compat.ModeAdd}
		if err := s.compat.CopyCompatibilities(ctx, destSeller, created.ID, itemID, opts); err != nil {
			log.Warn("Failed to copy compatibilities", zap.String("dest_item_id", created.ID), zap.Error(err))
			s.recordAPIError(ctx, "copy_compat", sourceSeller, destSeller, itemID, created.ID, "", err)
		}
	}

	return created.ID, nil
}

// submit posts payload, repairing it after each rejection, up to maxAttempts submissions.
func (s *Service) submit(ctx context.Context, log *zap.Logger, destSeller string, item *marketplace.Listing, payload Payload) (*marketplace.CreatedItem, error) {
	safeModeUsed := false
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.metrics != nil {
			s.metrics.SubmissionAttempted()
		}
		log.Debug("Submitting payload",
			zap.Int("attempt", attempt),
			zap.String("state", string(StateSubmitting)),
			zap.Strings("fields", payload.Keys()))

		created, err := s.api.CreateItem(ctx, destSeller, payload)
		if err == nil {
			return created, nil
		}
		lastErr = err

		var apiErr *marketplace.APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		decision := NextPayload(s.classifier, payload, item, err, safeModeUsed)
		log.Warn("Payload rejected",
			zap.Int("attempt", attempt),
			zap.String("state", string(decision.State)),
			zap.Strings("actions", decision.Actions),
			zap.Error(err))

		switch decision.State {
		case StateAdjusting:
			if s.metrics != nil {
				for _, action := range decision.Actions {
					s.metrics.PayloadAdjusted(action)
				}
			}
		case StateSafeModeRetry:
			safeModeUsed = true
		default:
			return nil, err
		}
		payload = decision.Payload
	}

	return nil, lastErr
}

// CopyItems copies every item to every destination. Items may run concurrently;
// destinations of one item are copied in order. Results keep item order.
func (s *Service) CopyItems(ctx context.Context, req CopyRequest) []CopyResult {
	var ids []string
	for _, id := range req.ItemIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	perItem := make([][]CopyResult, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			perItem[i] = s.copyItem(ctx, req, id)
			return nil
		})
	}
	_ = g.Wait()

	var results []CopyResult
	for _, r := range perItem {
		results = append(results, r...)
	}
	return results
}

func (s *Service) copyItem(ctx context.Context, req CopyRequest, itemID string) []CopyResult {
	entry := &database.CopyLog{
		Operator:     req.Operator,
		SourceSeller: req.SourceSeller,
		DestSellers:  req.DestSellers,
		SourceItemID: itemID,
		Status:       database.StatusInProgress,
	}
	logged := false
	if s.logs != nil {
		if err := s.logs.CreateCopyLog(ctx, entry); err != nil {
			s.logger.Error("Failed to create copy log", zap.String("source_item_id", itemID), zap.Error(err))
			entry.ID = ""
		} else {
			logged = true
		}
	}

	results := make([]CopyResult, 0, len(req.DestSellers))
	destIDs := map[string]string{}
	errs := map[string]string{}
	for _, dest := range req.DestSellers {
		r := s.copySingle(ctx, req.SourceSeller, dest, itemID, entry.ID)
		results = append(results, r)
		if r.Status == StatusSuccess {
			destIDs[dest] = r.DestItemID
		} else {
			errs[dest] = r.Error
		}
	}

	entry.DestItemIDs = destIDs
	entry.ErrorDetails = errs
	switch {
	case len(errs) == 0:
		entry.Status = database.StatusSuccess
	case len(destIDs) == 0:
		entry.Status = database.StatusError
	default:
		entry.Status = database.StatusPartial
	}

	if s.logs != nil {
		var err error
		if logged {
			err = s.logs.UpdateCopyLog(ctx, entry)
		} else {
			err = s.logs.CreateCopyLog(ctx, entry)
		}
		if err != nil {
			s.logger.Error("Failed to update copy log", zap.String("source_item_id", itemID), zap.Error(err))
		}
	}

	return results
}

// DimensionAttributes converts package dimensions to SELLER_PACKAGE_* attributes.
func DimensionAttributes(d Dimensions) []AttributeValue {
	var attrs []AttributeValue
	add := func(id string, v *float64, unit string) {
		if v != nil {
			attrs = append(attrs, AttributeValue{ID: id, ValueName: strconv.FormatFloat(*v, 'f', -1, 64) + " " + unit})
		}
	}
	add("SELLER_PACKAGE_HEIGHT", d.Height, "cm")
	add("SELLER_PACKAGE_WIDTH", d.Width, "cm")
	add("SELLER_PACKAGE_LENGTH", d.Length, "cm")
	add("SELLER_PACKAGE_WEIGHT", d.Weight, "g")
	return attrs
}

// CopyWithDimensions applies package dimensions to the source item and copies it again.
func (s *Service) CopyWithDimensions(ctx context.Context, sourceSeller string, destSellers []string, itemID string, d Dimensions) []CopyResult {
	attrs := DimensionAttributes(d)
	if err := s.api.UpdateItem(ctx, sourceSeller, itemID, map[string]any{"attributes": attrs}); err != nil {
		s.logger.Error("Failed to apply dimensions",
			zap.String("source_seller", sourceSeller),
			zap.String("source_item_id", itemID),
			zap.Error(err))
		results := make([]CopyResult, len(destSellers))
		for i, dest := range destSellers {
			results[i] = CopyResult{
				SourceItemID: itemID,
				DestSeller:   dest,
				Status:       StatusError,
				Error:        fmt.Sprintf("failed to apply dimensions to source item: %v", err),
			}
		}
		return results
	}
	s.logger.Info("Dimensions applied to source item",
		zap.String("source_seller", sourceSeller),
		zap.String("source_item_id", itemID))

	results := make([]CopyResult, 0, len(destSellers))
	for _, dest := range destSellers {
		results = append(results, s.copySingle(ctx, sourceSeller, dest, itemID, ""))
	}
	return results
}

// Preview summarises an item before it is copied.
func (s *Service) Preview(ctx context.Context, seller, itemID string) (*Preview, error) {
	item, err := s.api.GetItem(ctx, seller, itemID)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		ID:              item.ID,
		Title:           item.Title.String(),
		FamilyName:      item.FamilyName.String(),
		Price:           item.Price.String(),
		CurrencyID:      item.CurrencyID,
		Condition:       item.Condition,
		Status:          item.Status,
		CategoryID:      item.CategoryID,
		ListingTypeID:   item.ListingTypeID,
		Permalink:       item.Permalink,
		Thumbnail:       item.SecureThumbnail,
		SellerSKU:       SellerSKU(item),
		PicturesCount:   len(item.Pictures),
		VariationsCount: len(item.Variations),
		AttributesCount: len(item.Attributes),
		UserProduct:     IsUserProduct(item),
		Channels:        item.Channels,
	}
	if p.Thumbnail == "" {
		p.Thumbnail = item.Thumbnail
	}
	if item.AvailableQuantity != nil {
		p.AvailableQuantity = *item.AvailableQuantity
	}
	if item.SoldQuantity != nil {
		p.SoldQuantity = *item.SoldQuantity
	}

	if desc, err := s.api.GetItemDescription(ctx, seller, itemID); err == nil {
		p.DescriptionLength = len([]rune(desc.PlainText))
	}
	if c, err := s.api.GetItemCompatibilities(ctx, seller, itemID); err == nil {
		p.HasCompatibilities = c.HasProducts()
	}
	return p, nil
}

func (s *Service) recordAPIError(ctx context.Context, action, sourceSeller, destSeller, sourceItemID, destItemID, logID string, cause error) {
	if s.logs == nil {
		return
	}
	apiErr, ok := marketplace.AsAPIError(cause)
	if !ok {
		return
	}
	entry := &database.APIDebugLog{
		Action:         action,
		SourceSeller:   sourceSeller,
		DestSeller:     destSeller,
		SourceItemID:   sourceItemID,
		DestItemID:     destItemID,
		LogID:          logID,
		Method:         apiErr.Method,
		URL:            apiErr.URL,
		ResponseStatus: apiErr.StatusCode,
		ErrorMessage:   cause.Error(),
	}
	if apiErr.Payload != nil {
		entry.ResponseBody, _ = json.Marshal(apiErr.Payload)
	}
	if err := s.logs.InsertAPIDebugLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to store API debug log", zap.Error(err))
	}
}
