package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPResolver resolves resource ownership against the venue service's
// internal API: GET <base>/internal/resources/<ref>/tenant.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type resolveResponse struct {
	TenantID string `json:"tenant_id"`
}

func (r *HTTPResolver) ResolveOwnerTenant(ctx context.Context, resourceRef string) (string, error) {
	endpoint := fmt.Sprintf("%s/internal/resources/%s/tenant", r.baseURL, url.PathEscape(resourceRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building resolve request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving resource owner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrResourceUnknown, resourceRef)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolving resource owner: unexpected status %d", resp.StatusCode)
	}

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding resolve response: %w", err)
	}
	if body.TenantID == "" {
		return "", fmt.Errorf("resource %s has no owning tenant", resourceRef)
	}
	return body.TenantID, nil
}
