package itinerary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
	"github.com/pippuri/whim-bot-sub001/internal/ledger"
)

// Client implements Service against the trips service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (c *Client) Retrieve(ctx context.Context, id string) (*Itinerary, error) {
	var it Itinerary
	if err := c.do(ctx, http.MethodGet, "/itineraries/"+id, nil, &it); err != nil {
		return nil, fmt.Errorf("retrieve itinerary %s: %w", id, err)
	}
	return &it, nil
}

func (c *Client) Pay(ctx context.Context, id string) (*Itinerary, error) {
	var it Itinerary
	if err := c.do(ctx, http.MethodPost, "/itineraries/"+id+"/pay", nil, &it); err != nil {
		return nil, fmt.Errorf("pay itinerary %s: %w", id, err)
	}
	return &it, nil
}

func (c *Client) Activate(ctx context.Context, id string) (*Itinerary, error) {
	var it Itinerary
	if err := c.do(ctx, http.MethodPost, "/itineraries/"+id+"/activate", nil, &it); err != nil {
		return nil, fmt.Errorf("activate itinerary %s: %w", id, err)
	}
	return &it, nil
}

func (c *Client) Finish(ctx context.Context, id string) (*Itinerary, error) {
	var it Itinerary
	if err := c.do(ctx, http.MethodPost, "/itineraries/"+id+"/finish", nil, &it); err != nil {
		return nil, fmt.Errorf("finish itinerary %s: %w", id, err)
	}
	return &it, nil
}

// activateLegResponse carries the updated leg plus the point cost charged for
// it, which the orchestrator records on the caller's ledger transaction.
type activateLegResponse struct {
	Leg        Leg   `json:"leg"`
	PointsCost int64 `json:"pointsCost"`
}

func (c *Client) ActivateLeg(ctx context.Context, tx ledger.Transaction, itineraryID, legID string, opts ActivateLegOptions) (*Leg, error) {
	var resp activateLegResponse
	path := "/itineraries/" + itineraryID + "/legs/" + legID + "/activate"
	if err := c.do(ctx, http.MethodPost, path, opts, &resp); err != nil {
		return nil, fmt.Errorf("activate leg %s: %w", legID, err)
	}
	if resp.PointsCost > 0 {
		if err := tx.Debit(ctx, resp.PointsCost, "leg activation "+legID); err != nil {
			return nil, fmt.Errorf("charge %d points for leg %s: %w", resp.PointsCost, legID, err)
		}
	}
	return &resp.Leg, nil
}

func (c *Client) FinishLeg(ctx context.Context, itineraryID, legID string) (*Leg, error) {
	var leg Leg
	path := "/itineraries/" + itineraryID + "/legs/" + legID + "/finish"
	if err := c.do(ctx, http.MethodPost, path, nil, &leg); err != nil {
		return nil, fmt.Errorf("finish leg %s: %w", legID, err)
	}
	return &leg, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindTransient, "trips service request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode == http.StatusNotFound:
		return fault.Newf(fault.KindDomain, "%s %s: not found", method, path)
	case resp.StatusCode == http.StatusConflict:
		return fault.Newf(fault.KindDomain, "%s %s: invalid state: %s", method, path, readError(resp.Body))
	default:
		kind := fault.KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = fault.KindDomain
		}
		return fault.Newf(kind, "%s %s returned %d: %s", method, path, resp.StatusCode, readError(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode trips service response: %w", err)
	}
	return nil
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
