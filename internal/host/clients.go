package host

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Window 记录一次 openWindow 调用。
type Window struct {
	URL      string    `json:"url"`
	OpenedAt time.Time `json:"opened_at"`
}

// ClientsSnapshot 是 Clients 的只读视图。
type ClientsSnapshot struct {
	Claimed   bool      `json:"claimed"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
	Windows   []Window  `json:"windows"`
}

// Clients 实现 worker.Clients：记录接管状态与被打开的窗口。
type Clients struct {
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	claimed   bool
	claimedAt time.Time
	windows   []Window
}

// NewClients 构造空的页面实例集合。
func NewClients(logger *logrus.Logger) *Clients {
	return &Clients{logger: logger, now: time.Now}
}

// Claim 标记所有页面已被当前 worker 接管，重复调用保持首次时间。
func (c *Clients) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	first := !c.claimed
	if first {
		c.claimed = true
		c.claimedAt = c.now().UTC()
	}
	c.mu.Unlock()

	if first && c.logger != nil {
		c.logger.WithFields(logrus.Fields{"action": "clients_claim"}).Info("clients_claimed")
	}
	return nil
}

// OpenWindow 记录一次打开站内页面的请求。
func (c *Clients) OpenWindow(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("window url required")
	}
	c.mu.Lock()
	c.windows = append(c.windows, Window{URL: url, OpenedAt: c.now().UTC()})
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"action": "clients_open_window", "url": url}).Info("client_window_opened")
	}
	return nil
}

// Snapshot 返回当前状态的副本。
func (c *Clients) Snapshot() ClientsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientsSnapshot{
		Claimed:   c.claimed,
		ClaimedAt: c.claimedAt,
		Windows:   append([]Window{}, c.windows...),
	}
}
