// Package places proxies a narrow set of Google Places API calls. It builds
// the upstream requests, attaches the API key and field masks, and shapes
// responses for the mobile client. Upstream failures are represented in the
// returned data so the HTTP front can translate them uniformly.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	searchFieldMask  = "places.id,places.displayName,places.formattedAddress,places.location"
	detailsFieldMask = "id,displayName,formattedAddress,location"

	defaultNearbyRadius = 1500.0
	defaultSearchRadius = 50000.0
	defaultSearchLat    = 37.5665
	defaultSearchLng    = 126.9780
)

// connectBackoff is the retry schedule for EADDRNOTAVAIL connect failures,
// which show up under local port exhaustion and resolve on their own.
var connectBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}

// Upstream carries a response to hand back to the client: either the shaped
// success payload or the upstream error status and body verbatim.
type Upstream struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client calls the Places upstream over HTTPS.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	photoURL   string
	log        *zap.Logger
}

// NewClient builds a Places client with the given API key. The HTTP client
// carries the connect+request timeout and leaves redirects to the caller
// (the photo endpoint follows exactly one).
func NewClient(apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:  "https://places.googleapis.com",
		photoURL: "https://maps.googleapis.com/maps/api/place/photo",
		log:      log,
	}
}

// Configured reports whether an API key was supplied.
func (c *Client) Configured() bool { return c.apiKey != "" }

// APIKey returns the configured upstream key.
func (c *Client) APIKey() string { return c.apiKey }

// NearbyRequest is the decoded body of POST /places/nearby.
type NearbyRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// TextSearchRequest is the decoded body of POST /places/search.
type TextSearchRequest struct {
	Query     string   `json:"query"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Radius    float64  `json:"radius"`
}

// Nearby performs a nearby search restricted to a circle around the given
// point and projects the result list.
func (c *Client) Nearby(ctx context.Context, req NearbyRequest) (*Upstream, error) {
	radius := req.Radius
	if radius <= 0 {
		radius = defaultNearbyRadius
	}
	payload := map[string]any{
		"locationRestriction": circle(req.Latitude, req.Longitude, radius),
	}
	return c.search(ctx, "/v1/places:searchNearby", payload)
}

// TextSearch performs a text query biased toward a circle around the given
// point and projects the result list.
func (c *Client) TextSearch(ctx context.Context, req TextSearchRequest) (*Upstream, error) {
	lat, lng := defaultSearchLat, defaultSearchLng
	if req.Latitude != nil {
		lat = *req.Latitude
	}
	if req.Longitude != nil {
		lng = *req.Longitude
	}
	radius := req.Radius
	if radius <= 0 {
		radius = defaultSearchRadius
	}
	payload := map[string]any{
		"textQuery":    req.Query,
		"locationBias": circle(lat, lng, radius),
	}
	return c.search(ctx, "/v1/places:searchText", payload)
}

// Details fetches a single place by id. The upstream JSON is returned
// re-serialized but otherwise unchanged.
func (c *Client) Details(ctx context.Context, placeID string) (*Upstream, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/places/"+placeID, detailsFieldMask, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return upstreamError(status, body), nil
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return upstreamError(status, body), nil
	}
	out, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode details response: %w", err)
	}
	return &Upstream{Status: http.StatusOK, ContentType: "application/json", Body: out}, nil
}

// Photo proxies the classic place-photo endpoint. A direct 2xx body is
// streamed through; a 302 is followed exactly once to the CDN host; any
// other status passes through unchanged.
func (c *Client) Photo(ctx context.Context, photoRef string, maxWidth int) (*Upstream, error) {
	if maxWidth <= 0 {
		maxWidth = 400
	}
	url := fmt.Sprintf("%s?maxwidth=%d&photoreference=%s&key=%s",
		c.photoURL, maxWidth, photoRef, c.apiKey)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound {
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, errors.New("photo redirect without Location header")
		}
		if target, perr := resp.Request.URL.Parse(location); perr == nil {
			location = target.String()
		}
		redirected, err := c.get(ctx, location)
		if err != nil {
			return nil, err
		}
		defer redirected.Body.Close()
		return readUpstream(redirected)
	}
	return readUpstream(resp)
}

func (c *Client) search(ctx context.Context, path string, payload map[string]any) (*Upstream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	status, respBody, err := c.do(ctx, http.MethodPost, c.baseURL+path, searchFieldMask, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.log.Warn("places upstream returned error status",
			zap.String("path", path), zap.Int("status", status))
		return upstreamError(status, respBody), nil
	}
	return projectSearchResults(respBody)
}

// do issues one upstream request, retrying EADDRNOTAVAIL connect failures
// with backoff before surfacing the error. Other transport errors are not
// retried.
func (c *Client) do(ctx context.Context, method, url, fieldMask string, body []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, fmt.Errorf("build upstream request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		req.Header.Set("X-Goog-FieldMask", fieldMask)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			defer resp.Body.Close()
			respBody, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return 0, nil, fmt.Errorf("read upstream response: %w", readErr)
			}
			return resp.StatusCode, respBody, nil
		}

		lastErr = err
		if !errors.Is(err, syscall.EADDRNOTAVAIL) || attempt >= len(connectBackoff) {
			return 0, nil, fmt.Errorf("upstream request failed: %w", lastErr)
		}
		c.log.Warn("upstream connect failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-time.After(connectBackoff[attempt]):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

// get issues one photo request with the same EADDRNOTAVAIL retry schedule
// as do.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build photo request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, syscall.EADDRNOTAVAIL) || attempt >= len(connectBackoff) {
			return nil, fmt.Errorf("photo request failed: %w", err)
		}
		c.log.Warn("photo connect failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-time.After(connectBackoff[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func readUpstream(resp *http.Response) (*Upstream, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read photo response: %w", err)
	}
	return &Upstream{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func upstreamError(status int, body []byte) *Upstream {
	contentType := "text/plain"
	if json.Valid(body) {
		contentType = "application/json"
	}
	return &Upstream{Status: status, ContentType: contentType, Body: body}
}

func circle(lat, lng, radius float64) map[string]any {
	return map[string]any{
		"circle": map[string]any{
			"center": map[string]any{
				"latitude":  lat,
				"longitude": lng,
			},
			"radius": radius,
		},
	}
}

// coord serializes with exactly six decimal places, which both rounds the
// value and keeps the wire format stable for clients that string-match.
type coord float64

func (c coord) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(c), 'f', 6, 64), nil
}

// Place is one projected search result.
type Place struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Addr string `json:"addr"`
	Loc  struct {
		Lat coord `json:"lat"`
		Lng coord `json:"lng"`
	} `json:"loc"`
}

type upstreamPlace struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string `json:"formattedAddress"`
	Location         struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

func projectSearchResults(body []byte) (*Upstream, error) {
	var parsed struct {
		Places []upstreamPlace `json:"places"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode upstream search response: %w", err)
	}

	out := struct {
		Places []Place `json:"places"`
	}{Places: make([]Place, 0, len(parsed.Places))}

	for _, up := range parsed.Places {
		var p Place
		p.ID = up.ID
		if p.ID == "" {
			p.ID = strings.TrimPrefix(up.Name, "places/")
		}
		p.Name = up.DisplayName.Text
		p.Addr = up.FormattedAddress
		p.Loc.Lat = coord(up.Location.Latitude)
		p.Loc.Lng = coord(up.Location.Longitude)
		out.Places = append(out.Places, p)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode search response: %w", err)
	}
	return &Upstream{Status: http.StatusOK, ContentType: "application/json", Body: encoded}, nil
}
