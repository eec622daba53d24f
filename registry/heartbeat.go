// Package registry announces this scanner instance to a registration server.
package registry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"SpatialScanner/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	RPCPort   int    `json:"rpcPort"`
	HTTPPort  int    `json:"httpPort"`
	Status    string `json:"status"`
	Tracked   int    `json:"tracked"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// State reports the scanner's status and tracked object count for each beat.
type State func() (status string, tracked int)

type Heartbeat struct {
	client   *resty.Client
	url      string
	interval time.Duration
	id       string
	ip       string
	rpcPort  int
	httpPort int
	state    State
	log      *zap.Logger
}

func NewHeartbeat(host string, port int, interval time.Duration, ip string, rpcPort, httpPort int, state State) *Heartbeat {
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second), // 总超时
		url:      fmt.Sprintf("http://%s:%d/api/register", host, port),
		interval: interval,
		id:       uuid.NewString(),
		ip:       ip,
		rpcPort:  rpcPort,
		httpPort: httpPort,
		state:    state,
		log:      logger.Named("registry"),
	}
}

func (h *Heartbeat) ID() string {
	return h.id
}

// Run sends a beat immediately and then on every interval until ctx ends.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.safeBeat(ctx)
	for {
		select {
		case <-ctx.Done():
			h.log.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.safeBeat(ctx)
		}
	}
}

func (h *Heartbeat) safeBeat(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("heartbeat panic recovered", zap.Any("panic", r))
		}
	}()
	if err := h.Beat(ctx); err != nil {
		h.log.Warn("heartbeat failed", zap.Error(err))
	}
}

func (h *Heartbeat) Beat(ctx context.Context) error {
	req := RegisterRequest{
		Id:        h.id,
		IP:        h.ip,
		RPCPort:   h.rpcPort,
		HTTPPort:  h.httpPort,
		TimeStamp: time.Now().Unix(),
	}
	if h.state != nil {
		req.Status, req.Tracked = h.state()
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		ForceContentType("application/json").
		Post(h.url)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	// 检查 HTTP 状态码
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", h.id)
	}
	return nil
}

// OutboundIP returns the local address used to reach the network. No packet is
// sent; dialing UDP only resolves the route.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
