package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

const geocoderTimeout = 6 * time.Second

// ErrGeocoderUnavailable signals that the lookup provider could not be
// reached. Address search degrades to manual entry; it never blocks checkout.
var ErrGeocoderUnavailable = errors.New("gateways: geocoder unavailable")

// GeocoderClient resolves free-text address queries into normalized candidates.
type GeocoderClient struct {
	baseURL       string
	country       string
	maxCandidates int
	http          *http.Client
}

// NewGeocoderClient constructs a geocoder client scoped to one country.
func NewGeocoderClient(baseURL, country string, maxCandidates int, opts ...ClientOption) *GeocoderClient {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &GeocoderClient{
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		country:       strings.ToUpper(strings.TrimSpace(country)),
		maxCandidates: maxCandidates,
		http:          applyClientOptions(&http.Client{Timeout: geocoderTimeout}, opts),
	}
}

// Search returns up to maxCandidates normalized candidates for the query.
func (c *GeocoderClient) Search(ctx context.Context, query string) ([]domain.AddressCandidate, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrGeocoderUnavailable
	}

	endpoint, err := url.JoinPath(c.baseURL, "v1", "search")
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", strings.TrimSpace(query))
	params.Set("limit", strconv.Itoa(c.maxCandidates))
	if c.country != "" {
		params.Set("country", c.country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGeocoderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrGeocoderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateways: geocoder status %d: %s", resp.StatusCode, drainError(resp.Body))
	}

	var payload struct {
		Candidates []candidatePayload `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrGeocoderUnavailable, err)
	}

	candidates := make([]domain.AddressCandidate, 0, len(payload.Candidates))
	for _, p := range payload.Candidates {
		if len(candidates) == c.maxCandidates {
			break
		}
		candidates = append(candidates, p.toCandidate())
	}
	return candidates, nil
}

type candidatePayload struct {
	ID         string  `json:"id"`
	Formatted  string  `json:"formatted"`
	Street     string  `json:"street"`
	Number     string  `json:"number"`
	City       string  `json:"city"`
	Province   string  `json:"province"`
	PostalCode string  `json:"postalCode"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (p candidatePayload) toCandidate() domain.AddressCandidate {
	return domain.AddressCandidate{
		ID:               strings.TrimSpace(p.ID),
		FormattedAddress: strings.TrimSpace(p.Formatted),
		Street:           strings.TrimSpace(p.Street),
		Number:           strings.TrimSpace(p.Number),
		City:             strings.TrimSpace(p.City),
		Province:         strings.TrimSpace(p.Province),
		PostalCode:       strings.TrimSpace(p.PostalCode),
		Lat:              p.Lat,
		Lon:              p.Lon,
	}
}
