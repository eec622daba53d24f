package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	iface "SpatialScanner/interface"

	"github.com/go-resty/resty/v2"
)

type Position struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

type SingleResult struct {
	Name       string     `json:"name"`
	ClassID    int        `json:"classId"`
	Confidence float32    `json:"confidence"`
	Box        []Position `json:"box"`
	Center     Position   `json:"center"`
}

type InferenceRequest struct {
	Id       string `json:"id"`
	Width    int32  `json:"width"`
	Height   int32  `json:"height"`
	Channels int32  `json:"channels"`
	ImgData  []byte `json:"imgData"`
}

type InferenceResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Results []SingleResult `json:"results"`
}

// HTTPBackend posts raw frames to a remote inference engine.
type HTTPBackend struct {
	client   *resty.Client
	endpoint string
	engineID string
}

func NewHTTPBackend(endpoint, engineID string, timeout time.Duration) *HTTPBackend {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPBackend{client: client, endpoint: endpoint, engineID: engineID}
}

func (b *HTTPBackend) Infer(ctx context.Context, img iface.ImageData) ([]iface.RawDetection, error) {
	var respBody InferenceResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(InferenceRequest{
			Id:       b.engineID,
			Width:    img.Width,
			Height:   img.Height,
			Channels: img.Channels,
			ImgData:  img.Data,
		}).
		SetResult(&respBody).
		ForceContentType("application/json").
		Post(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("inference server returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		if respBody.Message == "" {
			return nil, errors.New("inference server reported failure")
		}
		return nil, fmt.Errorf("inference server reported failure: %s", respBody.Message)
	}

	raws := make([]iface.RawDetection, 0, len(respBody.Results))
	for _, r := range respBody.Results {
		box, err := toBox(r.Box)
		if err != nil {
			return nil, err
		}
		raws = append(raws, iface.RawDetection{
			ClassID:    r.ClassID,
			Label:      r.Name,
			Confidence: r.Confidence,
			Box:        box,
		})
	}
	return raws, nil
}

func toBox(pts []Position) (iface.Box, error) {
	if len(pts) != 4 {
		return iface.Box{}, fmt.Errorf("box must have 4 corners, got %d", len(pts))
	}
	p := func(i int) iface.Position { return iface.Position{X: float32(pts[i].X), Y: float32(pts[i].Y)} }
	return iface.Box{LT: p(0), RT: p(1), RB: p(2), LB: p(3)}, nil
}

func (b *HTTPBackend) Close() error {
	b.client.GetClient().CloseIdleConnections()
	return nil
}
