package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/speles7172/lahak/internal/core/domain"
)

const defaultRequestTimeout = 30 * time.Second

// Gateway speaks the sync protocol. Failures are classified from the JSON
// envelope, never from the HTTP status. A submission is never retried here:
// the operation is not idempotent and after a transport failure its outcome
// is unknown.
type Gateway struct {
	base   *url.URL
	client *http.Client
}

// SubmitPayload is one stock movement as entered by the operator.
type SubmitPayload struct {
	ItemCode string  `json:"item_code"`
	Qty      float64 `json:"qty"`
	Location string  `json:"location"`
	User     string  `json:"user"`
	Comments string  `json:"comments"`
}

func NewGateway(baseURL string, httpClient *http.Client) (*Gateway, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrapf(domain.ErrConfiguration, "server url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Gateway{base: base, client: httpClient}, nil
}

// Bootstrap fetches the full session snapshot for one identity.
func (g *Gateway) Bootstrap(ctx context.Context, identity string) (*domain.Snapshot, error) {
	target := g.base.JoinPath("sync")
	target.RawQuery = url.Values{"action": {"bootstrap"}, "identity": {identity}}.Encode()

	body, err := g.get(ctx, target.String())
	if err != nil {
		return nil, err
	}

	var resp struct {
		wireEnvelope
		User      wireUser       `json:"user"`
		Locations []wireLocation `json:"locations"`
		Items     []wireItem     `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "decode bootstrap reply: %v", err)
	}
	if err := resp.wireEnvelope.err(); err != nil {
		return nil, err
	}

	snapshot := &domain.Snapshot{
		User: domain.User{
			Email:           resp.User.Email,
			Name:            resp.User.Name,
			DefaultLocation: resp.User.DefaultLocation,
		},
		Locations: make([]domain.Location, 0, len(resp.Locations)),
		Items:     make([]*domain.Item, 0, len(resp.Items)),
	}
	for _, loc := range resp.Locations {
		snapshot.Locations = append(snapshot.Locations, domain.Location{Code: loc.Code, Name: loc.Name})
	}
	for _, wi := range resp.Items {
		item, err := wi.toDomain()
		if err != nil {
			return nil, err
		}
		snapshot.Items = append(snapshot.Items, item)
	}
	return snapshot, nil
}

// LookupItem is the legacy single-item fetch. The success reply is the bare
// item, so presence of the error field decides the shape.
func (g *Gateway) LookupItem(ctx context.Context, code string) (*domain.Item, error) {
	target := g.base.JoinPath("sync")
	target.RawQuery = url.Values{"code": {code}}.Encode()

	body, err := g.get(ctx, target.String())
	if err != nil {
		return nil, err
	}

	var resp struct {
		wireEnvelope
		wireItem
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "decode lookup reply: %v", err)
	}
	if err := resp.wireEnvelope.err(); err != nil {
		return nil, err
	}
	if resp.Code == "" {
		return nil, errors.Wrap(domain.ErrTransport, "lookup reply names no item")
	}
	return resp.wireItem.toDomain()
}

// SubmitTransaction posts one movement and returns the server's receipt.
func (g *Gateway) SubmitTransaction(ctx context.Context, payload SubmitPayload) (*domain.Receipt, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrValidation, "encode submission: %v", err)
	}

	target := g.base.JoinPath("sync")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "build submit request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		// The server may or may not have recorded it. Surface that and stop.
		return nil, errors.Wrapf(domain.ErrTransport, "submit outcome unknown: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "submit outcome unknown: %v", err)
	}

	var resp struct {
		wireEnvelope
		ItemCode  string  `json:"item_code"`
		ItemName  string  `json:"item_name"`
		Location  string  `json:"location"`
		OldQty    float64 `json:"old_qty"`
		NewQty    float64 `json:"new_qty"`
		Delta     float64 `json:"delta"`
		Timestamp string  `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "submit outcome unknown: decode reply: %v", err)
	}
	if err := resp.wireEnvelope.err(); err != nil {
		return nil, err
	}

	recorded, err := parseWireTime(resp.Timestamp)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "submit receipt timestamp: %v", err)
	}
	return &domain.Receipt{
		ItemCode:   resp.ItemCode,
		ItemName:   resp.ItemName,
		Location:   resp.Location,
		OldQty:     resp.OldQty,
		NewQty:     resp.NewQty,
		Delta:      resp.Delta,
		RecordedAt: recorded,
	}, nil
}

func (g *Gateway) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "build request: %v", err)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "read reply: %v", err)
	}
	return body, nil
}

type wireEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e wireEnvelope) err() error {
	if e.Error == "" {
		return nil
	}
	return domain.FromCategory(e.Error, e.Message)
}

type wireUser struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	DefaultLocation string `json:"default_location"`
}

type wireLocation struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type wireItem struct {
	Code       string             `json:"code"`
	Series     string             `json:"series"`
	Name       string             `json:"name"`
	Volume     string             `json:"volume"`
	Total      *float64           `json:"total"`
	Locations  map[string]float64 `json:"locations"`
	LastUpdate string             `json:"last_update"`
}

func (w wireItem) toDomain() (*domain.Item, error) {
	updated, err := parseWireTime(w.LastUpdate)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "item %s last_update: %v", w.Code, err)
	}
	return &domain.Item{
		Code:      w.Code,
		Series:    w.Series,
		Name:      w.Name,
		Volume:    w.Volume,
		Total:     w.Total,
		Locations: w.Locations,
		UpdatedAt: updated,
	}, nil
}

func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
