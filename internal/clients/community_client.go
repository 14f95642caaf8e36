package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"neighborly/internal/platform/apperr"
)

type CommunityClient struct {
	t *transport
}

func NewCommunityClient(baseURL, serviceKey string, httpClient *http.Client) *CommunityClient {
	return &CommunityClient{t: newTransport("community", baseURL, serviceKey, httpClient)}
}

// IsMember reports whether userID belongs to communityID.
func (c *CommunityClient) IsMember(ctx context.Context, communityID, userID uuid.UUID) (bool, error) {
	err := c.t.do(ctx, http.MethodGet, fmt.Sprintf("/internal/communities/%s/members/%s", communityID, userID), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.KindNotFound):
		return false, nil
	default:
		return false, err
	}
}
