package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// 通知动作 ID 固定，宿主据此回传点击事件。
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// Notification 是推送事件生成的用户可见通知。
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// NotificationData 随通知携带的附加信息。
type NotificationData struct {
	DateOfArrival time.Time `json:"dateOfArrival"`
	PrimaryKey    int       `json:"primaryKey"`
}

// NotificationAction 是通知上的一个按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// Push 根据推送负载展示通知；负载为空时使用默认文案。
func (w *Worker) Push(ctx context.Context, ev PushEvent) (string, error) {
	if w.notifier == nil {
		return "", fmt.Errorf("%w: no notifier", ErrNotHandled)
	}
	n := w.buildNotification(ev.Data)
	id, err := w.notifier.Show(ctx, n)
	if err != nil {
		return "", fmt.Errorf("show notification: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"action":          "push",
		"notification_id": id,
		"has_payload":     len(ev.Data) > 0,
	}).Info("notification_shown")
	return id, nil
}

func (w *Worker) buildNotification(payload []byte) Notification {
	push := w.cfg.Push
	body := push.DefaultBody
	if len(payload) > 0 {
		body = string(payload)
	}
	return Notification{
		Title:   push.Title,
		Body:    body,
		Icon:    push.Icon,
		Badge:   push.Badge,
		Vibrate: append([]int(nil), push.Vibrate...),
		Data: NotificationData{
			DateOfArrival: w.now().UTC(),
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "View Portfolio", Icon: push.Icon},
			{Action: ActionClose, Title: "Close", Icon: push.Icon},
		},
	}
}

// NotificationClick 关闭通知；仅 explore 动作会打开（或聚焦）站点根页面。
func (w *Worker) NotificationClick(ctx context.Context, ev NotificationClickEvent) error {
	if w.notifier != nil && ev.NotificationID != "" {
		if err := w.notifier.Close(ctx, ev.NotificationID); err != nil {
			return fmt.Errorf("close notification: %w", err)
		}
	}
	if ev.Action != ActionExplore {
		return nil
	}
	if w.clients == nil {
		return fmt.Errorf("%w: no clients", ErrNotHandled)
	}
	if err := w.clients.OpenWindow(ctx, w.cfg.Push.OpenURL); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"action":          "notificationclick",
		"notification_id": ev.NotificationID,
		"url":             w.cfg.Push.OpenURL,
	}).Info("client_window_opened")
	return nil
}

// Sync 处理后台同步；未识别的 tag 返回 ErrNotHandled。
func (w *Worker) Sync(ctx context.Context, ev SyncEvent) error {
	for _, tag := range w.cfg.SyncTags {
		if tag == ev.Tag {
			return w.doBackgroundSync(ctx, ev.Tag)
		}
	}
	return ErrNotHandled
}

// doBackgroundSync 暂无具体任务，只需成功完成。
func (w *Worker) doBackgroundSync(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{"action": "sync", "tag": tag}).Info("background_sync_triggered")
	return nil
}
