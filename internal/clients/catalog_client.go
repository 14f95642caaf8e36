// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"neighborly/internal/catalog"
)

type CatalogClient struct {
	t *transport
}

func NewCatalogClient(baseURL, serviceKey string, httpClient *http.Client) *CatalogClient {
	return &CatalogClient{t: newTransport("catalog", baseURL, serviceKey, httpClient)}
}

func (c *CatalogClient) GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	var item catalog.Item
	if err := c.t.do(ctx, http.MethodGet, fmt.Sprintf("/internal/items/%s", id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	req := struct {
		Available bool `json:"available"`
	}{Available: available}
	return c.t.do(ctx, http.MethodPatch, fmt.Sprintf("/internal/items/%s/availability", id), req, nil)
}
