package orderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-serials/pkg/config"
	"github.com/angelmondragon/packfinderz-serials/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
	"github.com/angelmondragon/packfinderz-serials/pkg/logger"
)

const (
	defaultTimeout  = 5 * time.Second
	maxErrorBodyLen = 512
)

// OrderItem is the order subsystem's view of a line the serial core fills.
type OrderItem struct {
	ID        uuid.UUID             `json:"id"`
	ProductID uuid.UUID             `json:"product_id"`
	Quantity  int64                 `json:"quantity"`
	Status    enums.OrderItemStatus `json:"status"`
}

// Client talks to the order subsystem over HTTP/JSON.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logg       *logger.Logger
}

// New builds a client from the order service config.
func New(cfg config.OrderServiceConfig, logg *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("order service base url required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse order service url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logg:       logg,
	}, nil
}

// GetOrderItem resolves an order item. A 404 maps to NOT_FOUND; transport
// failures and other statuses map to DEPENDENCY_ERROR.
func (c *Client) GetOrderItem(ctx context.Context, id uuid.UUID) (*OrderItem, error) {
	var item OrderItem
	if err := c.do(ctx, http.MethodGet, "/order-items/"+id.String(), nil, &item); err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		item.ID = id
	}
	return &item, nil
}

type statusUpdateRequest struct {
	Status enums.OrderItemStatus `json:"status"`
}

// UpdateOrderItemStatus asks the order subsystem to move the item to status.
func (c *Client) UpdateOrderItemStatus(ctx context.Context, id uuid.UUID, status enums.OrderItemStatus) error {
	return c.do(ctx, http.MethodPatch, "/order-items/"+id.String()+"/status", statusUpdateRequest{Status: status}, nil)
}

// StatusError carries a non-2xx reply so callers can tell rejections from outages.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("order service returned status %d: %s", e.StatusCode, e.Body)
}

// Rejected reports whether the order service refused the request outright.
func (e *StatusError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode order service request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build order service request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order service unreachable")
	}
	defer resp.Body.Close()

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	c.logg.Debug(logCtx, "order service call")

	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, statusErr, "order service request failed")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode order service response")
	}
	return nil
}
