package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/portfolio-cache/internal/worker"
)

// ShownNotification 是通知中心里仍处于打开状态的一条通知。
type ShownNotification struct {
	ID           string              `json:"id"`
	Notification worker.Notification `json:"notification"`
	ShownAt      time.Time           `json:"shown_at"`
}

// NotificationCenter 实现 worker.Notifier，按展示顺序保存未关闭的通知。
type NotificationCenter struct {
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.Mutex
	items map[string]ShownNotification
	order []string
}

// NewNotificationCenter 构造空的通知中心。
func NewNotificationCenter(logger *logrus.Logger) *NotificationCenter {
	return &NotificationCenter{
		logger: logger,
		now:    time.Now,
		items:  make(map[string]ShownNotification),
	}
}

// Show 保存通知并分配唯一 ID。
func (n *NotificationCenter) Show(ctx context.Context, notification worker.Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if notification.Title == "" {
		return "", errors.New("notification title required")
	}
	id := uuid.NewString()
	n.mu.Lock()
	n.items[id] = ShownNotification{ID: id, Notification: notification, ShownAt: n.now().UTC()}
	n.order = append(n.order, id)
	n.mu.Unlock()
	return id, nil
}

// Close 关闭通知；未知 ID 视为已关闭。
func (n *NotificationCenter) Close(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.items[id]; !ok {
		return nil
	}
	delete(n.items, id)
	for i, existing := range n.order {
		if existing == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{"action": "notification_close", "notification_id": id}).Debug("notification_closed")
	}
	return nil
}

// Get 按 ID 查找仍打开的通知。
func (n *NotificationCenter) Get(id string) (ShownNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	item, ok := n.items[id]
	return item, ok
}

// List 按展示顺序返回所有打开的通知。
func (n *NotificationCenter) List() []ShownNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]ShownNotification, 0, len(n.order))
	for _, id := range n.order {
		result = append(result, n.items[id])
	}
	return result
}

var (
	_ worker.Notifier = (*NotificationCenter)(nil)
	_ worker.Clients  = (*Clients)(nil)
)
