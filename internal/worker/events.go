package worker

import (
	"context"
	"fmt"
)

// EventKind 是 worker 可处理的封闭事件集合。
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventSync              EventKind = "sync"
)

// Event 由宿主适配层构造并交给 Dispatch。
type Event interface {
	Kind() EventKind
}

type InstallEvent struct{}

type ActivateEvent struct{}

type FetchEvent struct {
	Request *Request
}

// PushEvent 的 Data 为推送负载原文，可为空。
type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	NotificationID string
	Action         string
}

type SyncEvent struct {
	Tag string
}

func (InstallEvent) Kind() EventKind           { return EventInstall }
func (ActivateEvent) Kind() EventKind          { return EventActivate }
func (FetchEvent) Kind() EventKind             { return EventFetch }
func (PushEvent) Kind() EventKind              { return EventPush }
func (NotificationClickEvent) Kind() EventKind { return EventNotificationClick }
func (SyncEvent) Kind() EventKind              { return EventSync }

// Dispatcher 为每种生命周期事件提供一个方法。
type Dispatcher interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) (ActivateResult, error)
	Fetch(ctx context.Context, req *Request) (*FetchResult, error)
	Push(ctx context.Context, ev PushEvent) (string, error)
	NotificationClick(ctx context.Context, ev NotificationClickEvent) error
	Sync(ctx context.Context, ev SyncEvent) error
}

var _ Dispatcher = (*Worker)(nil)

// Outcome 承载 Dispatch 的事件相关结果，未涉及的字段保持零值。
type Outcome struct {
	Fetch          *FetchResult
	Activate       *ActivateResult
	NotificationID string
}

// Dispatch 按事件类型路由到对应方法，供宿主以统一入口转发平台事件。
func (w *Worker) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case InstallEvent:
		return Outcome{}, w.Install(ctx)
	case ActivateEvent:
		result, err := w.Activate(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Activate: &result}, nil
	case FetchEvent:
		result, err := w.Fetch(ctx, e.Request)
		return Outcome{Fetch: result}, err
	case PushEvent:
		id, err := w.Push(ctx, e)
		return Outcome{NotificationID: id}, err
	case NotificationClickEvent:
		return Outcome{}, w.NotificationClick(ctx, e)
	case SyncEvent:
		return Outcome{}, w.Sync(ctx, e)
	case nil:
		return Outcome{}, fmt.Errorf("%w: nil event", ErrNotHandled)
	default:
		return Outcome{}, fmt.Errorf("%w: unsupported event %s", ErrNotHandled, ev.Kind())
	}
}
