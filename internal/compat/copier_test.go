package compat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienbonastre/listing-copier/internal/marketplace"
)

type fakeAPI struct {
	mu         sync.Mutex
	items      map[string]*marketplace.Listing // seller/itemID
	compat     map[string]*marketplace.Compatibilities
	compatErr  error
	skus       map[string][]string // seller/sku
	copyErr    map[string]error    // destination item id
	creates    []marketplace.CompatibilityCopyRequest
	updates    []marketplace.CompatibilityUpdateRequest
	copyPastes []marketplace.CopyPasteRequest
	adds       []marketplace.UserProductCompatibilities
	touched    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		items:   map[string]*marketplace.Listing{},
		compat:  map[string]*marketplace.Compatibilities{},
		skus:    map[string][]string{},
		copyErr: map[string]error{},
	}
}

func (f *fakeAPI) addItem(seller string, l *marketplace.Listing) {
	f.items[seller+"/"+l.ID] = l
}

func (f *fakeAPI) GetItem(_ context.Context, seller, itemID string) (*marketplace.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.items[seller+"/"+itemID]
	if !ok {
		return nil, &marketplace.APIError{StatusCode: 404, Method: "GET", URL: "/items/" + itemID, Detail: "not_found"}
	}
	return l, nil
}

func (f *fakeAPI) GetItemCompatibilities(_ context.Context, _, itemID string) (*marketplace.Compatibilities, error) {
	if f.compatErr != nil {
		return nil, f.compatErr
	}
	return f.compat[itemID], nil
}

func (f *fakeAPI) CreateItemCompatibilities(_ context.Context, _, itemID string, body marketplace.CompatibilityCopyRequest) error {
	f.touched = append(f.touched, itemID)
	if err := f.copyErr[itemID]; err != nil {
		return err
	}
	f.creates = append(f.creates, body)
	return nil
}

func (f *fakeAPI) UpdateItemCompatibilities(_ context.Context, _, itemID string, body marketplace.CompatibilityUpdateRequest) error {
	f.touched = append(f.touched, itemID)
	if err := f.copyErr[itemID]; err != nil {
		return err
	}
	f.updates = append(f.updates, body)
	return nil
}

func (f *fakeAPI) CopyPasteUserProductCompatibilities(_ context.Context, _, _ string, body marketplace.CopyPasteRequest) error {
	f.copyPastes = append(f.copyPastes, body)
	return nil
}

func (f *fakeAPI) AddUserProductCompatibilities(_ context.Context, _, _ string, body marketplace.UserProductCompatibilities) error {
	f.adds = append(f.adds, body)
	return nil
}

func (f *fakeAPI) SearchItemsBySKU(_ context.Context, seller, _, sku string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skus[seller+"/"+sku], nil
}

func products(ids ...string) []marketplace.CompatibilityProduct {
	out := make([]marketplace.CompatibilityProduct, len(ids))
	for i, id := range ids {
		out[i] = marketplace.CompatibilityProduct{CatalogProductID: marketplace.Text(id), DomainID: "MLB-CARS"}
	}
	return out
}

func TestCopyCreatesWhenDestinationHasNone(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1"})

	err := NewCopier(api, nil, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{Mode: ModeAdd})
	require.NoError(t, err)

	require.Len(t, api.creates, 1)
	assert.Equal(t, "S1", api.creates[0].ItemToCopy.ItemID)
	assert.True(t, api.creates[0].ItemToCopy.ExtendedInformation)
	assert.Empty(t, api.updates)
}

func TestCopyAddModeKeepsExisting(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1"})
	api.compat["D1"] = &marketplace.Compatibilities{Products: products("P1")}

	err := NewCopier(api, nil, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{Mode: ModeAdd})
	require.NoError(t, err)

	require.Len(t, api.updates, 1)
	assert.Nil(t, api.updates[0].Delete)
	assert.Equal(t, "S1", api.updates[0].Create.ItemToCopy.ItemID)
}

func TestCopyReplaceModeDeletesExisting(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1"})
	api.compat["D1"] = &marketplace.Compatibilities{Products: products("P1", "P2")}

	err := NewCopier(api, nil, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{Mode: ModeReplace})
	require.NoError(t, err)

	require.Len(t, api.updates, 1)
	require.NotNil(t, api.updates[0].Delete)
	assert.Equal(t, []string{"P1", "P2"}, api.updates[0].Delete.ProductIDs)
}

func TestCopyFailsWhenDestinationMissing(t *testing.T) {
	api := newFakeAPI()

	err := NewCopier(api, nil, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{})
	assert.ErrorIs(t, err, marketplace.ErrNotFound)
}

func TestCopyPasteResolvesDomainFromSourceProducts(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1", UserProductID: "UP1", CategoryID: "MLB5"})

	opts := Options{SourceProducts: products("P1")}
	err := NewCopier(api, CopyPasteStrategy{}, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", opts)
	require.NoError(t, err)

	require.Len(t, api.copyPastes, 1)
	assert.Equal(t, marketplace.CopyPasteRequest{
		DomainID:            "MLB-CARS",
		CategoryID:          "MLB5",
		ItemID:              "S1",
		ExtendedInformation: true,
	}, api.copyPastes[0])
}

func TestCopyPasteFetchesDomainWhenUnknown(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1", UserProductID: "UP1"})
	api.compat["S1"] = &marketplace.Compatibilities{Products: products("P9")}

	err := NewCopier(api, nil, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{})
	require.NoError(t, err)
	require.Len(t, api.copyPastes, 1)
	assert.Equal(t, "MLB-CARS", api.copyPastes[0].DomainID)
}

func TestCopyPasteWithoutDomainFails(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1", UserProductID: "UP1"})

	err := NewCopier(api, nil, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{})

	apiErr, ok := marketplace.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.URL, "/user-products/UP1/compatibilities/copy-paste")
	assert.Empty(t, api.copyPastes)
}

func TestProductListStrategyBatches(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1", UserProductID: "UP1", CategoryID: "MLB5"})

	var ids []string
	for i := range 5 {
		ids = append(ids, fmt.Sprintf("P%d", i))
	}
	opts := Options{SourceProducts: append(products(ids...), marketplace.CompatibilityProduct{})}

	err := NewCopier(api, ProductListStrategy{BatchSize: 2}, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", opts)
	require.NoError(t, err)

	require.Len(t, api.adds, 3)
	assert.Len(t, api.adds[0].Products, 2)
	assert.Len(t, api.adds[2].Products, 1)
	assert.Equal(t, "MLB-CARS", api.adds[0].DomainID)
	assert.Equal(t, "MLB5", api.adds[0].CategoryID)
}

func TestProductListStrategyPropagatesFetchError(t *testing.T) {
	api := newFakeAPI()
	api.addItem("dest", &marketplace.Listing{ID: "D1", UserProductID: "UP1"})
	api.compatErr = errors.New("boom")

	err := NewCopier(api, ProductListStrategy{}, nil).CopyCompatibilities(context.Background(), "dest", "D1", "S1", Options{})
	assert.ErrorContains(t, err, "boom")
}
