package copier

// Copy outcomes.
const (
	StatusSuccess         = "success"
	StatusNeedsDimensions = "needs_dimensions"
	StatusError           = "error"
)

// State is a step of a single copy attempt.
type State string

// Copy attempt states.
const (
	StateBuilding        State = "building"
	StateSubmitting      State = "submitting"
	StateAdjusting       State = "adjusting"
	StateSafeModeRetry   State = "safe_mode_retry"
	StateSuccess         State = "success"
	StateNeedsDimensions State = "needs_dimensions"
	StateFailed          State = "failed"
)

// needsDimensionsMessage is returned to callers who must supply package dimensions.
const needsDimensionsMessage = "item has no shipping dimensions; provide them to continue"

// CopyResult is the outcome of copying one item to one destination seller.
type CopyResult struct {
	SourceItemID string `json:"sourceItemId"`
	DestSeller   string `json:"destSeller"`
	Status       string `json:"status"`
	DestItemID   string `json:"destItemId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Dimensions are physical package measures in centimetres and grams.
type Dimensions struct {
	Height *float64 `json:"height,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Length *float64 `json:"length,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
}

// CopyRequest asks for items to be copied from one seller to others.
type CopyRequest struct {
	SourceSeller string
	DestSellers  []string
	ItemIDs      []string
	Operator     string
}

// Preview summarises a source item before copying.
type Preview struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	FamilyName         string   `json:"familyName,omitempty"`
	Price              string   `json:"price"`
	CurrencyID         string   `json:"currencyId"`
	AvailableQuantity  int      `json:"availableQuantity"`
	SoldQuantity       int      `json:"soldQuantity"`
	Condition          string   `json:"condition"`
	Status             string   `json:"status"`
	CategoryID         string   `json:"categoryId"`
	ListingTypeID      string   `json:"listingTypeId"`
	Permalink          string   `json:"permalink"`
	Thumbnail          string   `json:"thumbnail"`
	SellerSKU          string   `json:"sellerSku,omitempty"`
	PicturesCount      int      `json:"picturesCount"`
	VariationsCount    int      `json:"variationsCount"`
	AttributesCount    int      `json:"attributesCount"`
	UserProduct        bool     `json:"userProduct"`
	HasCompatibilities bool     `json:"hasCompatibilities"`
	DescriptionLength  int      `json:"descriptionLength"`
	Channels           []string `json:"channels,omitempty"`
}
