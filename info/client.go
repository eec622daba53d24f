package info

import (
	"context"
	"errors"
	"fmt"
	"time"

	iface "SpatialScanner/interface"
	"SpatialScanner/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 10

type infoResponse struct {
	RequestID   string `json:"requestId"`
	Success     bool   `json:"success"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

// Client asks a remote service to describe a selected object.
type Client struct {
	http     *resty.Client
	endpoint string
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = TimeOutSeconds * time.Second
	}
	return &Client{
		http:     resty.New().SetTimeout(timeout).SetRetryCount(1),
		endpoint: endpoint,
	}
}

func (c *Client) RequestInfo(ctx context.Context, req iface.ObjectInfoRequest) (*iface.ObjectInfo, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	var respBody infoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		ForceContentType("application/json").
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("info request: %w", err)
	}
	if resp.IsError() {
		logger.Log().Warn("info service error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
		return nil, fmt.Errorf("info service returned %s", resp.Status())
	}
	if !respBody.Success {
		if respBody.Error != "" {
			return nil, fmt.Errorf("info service: %s", respBody.Error)
		}
		return nil, errors.New("info service reported failure")
	}
	return &iface.ObjectInfo{
		RequestID:   req.RequestID,
		ObjectID:    req.ObjectID,
		Title:       respBody.Title,
		Description: respBody.Description,
	}, nil
}
