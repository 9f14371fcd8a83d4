package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/portfolio-cache/internal/cache"
	"github.com/any-hub/portfolio-cache/internal/host"
	"github.com/any-hub/portfolio-cache/internal/worker"
)

// LifecycleOptions 汇总 /-/sw/* 接口依赖的组件。
type LifecycleOptions struct {
	Worker        *worker.Worker
	Storage       cache.Storage
	Clients       *host.Clients
	Notifications *host.NotificationCenter
	Logger        *logrus.Logger
}

// RegisterLifecycleRoutes 暴露 worker 生命周期与宿主事件的诊断/触发接口，
// 推送、通知点击与后台同步都经 Dispatch 统一转发。
func RegisterLifecycleRoutes(app *fiber.App, opts LifecycleOptions) {
	if app == nil || opts.Worker == nil {
		return
	}

	app.Get("/-/sw/state", func(c fiber.Ctx) error {
		return c.JSON(encodeState(opts))
	})

	app.Get("/-/sw/stores", func(c fiber.Ctx) error {
		if opts.Storage == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		stores, err := encodeStores(c, opts)
		if err != nil {
			logError(opts.Logger, "stores", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stores_unavailable"})
		}
		return c.JSON(fiber.Map{"stores": stores})
	})

	app.Post("/-/sw/update", func(c fiber.Ctx) error {
		if err := opts.Worker.Register(c.Context()); err != nil {
			logError(opts.Logger, "update", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":  "install_failed",
				"detail": err.Error(),
				"state":  opts.Worker.State(),
			})
		}
		return c.JSON(encodeState(opts))
	})

	app.Post("/-/sw/push", func(c fiber.Ctx) error {
		payload := append([]byte(nil), c.Body()...)
		outcome, err := opts.Worker.Dispatch(c.Context(), worker.PushEvent{Data: payload})
		if err != nil {
			return renderDispatchError(c, opts.Logger, "push", err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"notification_id": outcome.NotificationID})
	})

	app.Get("/-/sw/notifications", func(c fiber.Ctx) error {
		if opts.Notifications == nil {
			return c.JSON(fiber.Map{"notifications": []host.ShownNotification{}})
		}
		return c.JSON(fiber.Map{"notifications": opts.Notifications.List()})
	})

	app.Post("/-/sw/notifications/:id/click", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if opts.Notifications != nil {
			if _, ok := opts.Notifications.Get(id); !ok {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
			}
		}
		var body struct {
			Action string `json:"action"`
		}
		if err := decodeOptionalJSON(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		ev := worker.NotificationClickEvent{NotificationID: id, Action: body.Action}
		if _, err := opts.Worker.Dispatch(c.Context(), ev); err != nil {
			return renderDispatchError(c, opts.Logger, "notificationclick", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/sw/sync", func(c fiber.Ctx) error {
		var body struct {
			Tag string `json:"tag"`
		}
		if err := decodeOptionalJSON(c.Body(), &body); err != nil || strings.TrimSpace(body.Tag) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sync_tag_required"})
		}
		if _, err := opts.Worker.Dispatch(c.Context(), worker.SyncEvent{Tag: body.Tag}); err != nil {
			return renderDispatchError(c, opts.Logger, "sync", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/sw/clients", func(c fiber.Ctx) error {
		if opts.Clients == nil {
			return c.JSON(host.ClientsSnapshot{Windows: []host.Window{}})
		}
		return c.JSON(opts.Clients.Snapshot())
	})
}

type statePayload struct {
	State       worker.State   `json:"state"`
	Version     string         `json:"version"`
	SkipWaiting bool           `json:"skip_waiting"`
	Controlling bool           `json:"controlling"`
	Claimed     bool           `json:"claimed"`
	Stores      storeNames     `json:"stores"`
	SyncTags    []string       `json:"sync_tags"`
	Strategies  map[string]any `json:"strategies"`
}

type storeNames struct {
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
	Legacy  string `json:"legacy"`
}

type storePayload struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Entries []string `json:"entries"`
}

func encodeState(opts LifecycleOptions) statePayload {
	cfg := opts.Worker.Config()
	claimed := false
	if opts.Clients != nil {
		claimed = opts.Clients.Snapshot().Claimed
	}
	return statePayload{
		State:       opts.Worker.State(),
		Version:     cfg.Version,
		SkipWaiting: opts.Worker.SkipWaiting(),
		Controlling: opts.Worker.Controlling(),
		Claimed:     claimed,
		Stores: storeNames{
			Static:  cfg.StaticCacheName(),
			Dynamic: cfg.DynamicCacheName(),
			Legacy:  cfg.LegacyCacheName(),
		},
		SyncTags: append([]string{}, cfg.SyncTags...),
		Strategies: map[string]any{
			string(worker.StrategyCacheFirst):   []string{"document", "style", "script", "default"},
			string(worker.StrategyNetworkFirst): "other",
		},
	}
}

func encodeStores(c fiber.Ctx, opts LifecycleOptions) ([]storePayload, error) {
	ctx := c.Context()
	names, err := opts.Storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	cfg := opts.Worker.Config()
	current := map[string]bool{
		cfg.StaticCacheName():  true,
		cfg.DynamicCacheName(): true,
		cfg.LegacyCacheName():  true,
	}

	result := make([]storePayload, 0, len(names))
	for _, name := range names {
		store, err := opts.Storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]string, 0, len(keys))
		for _, key := range keys {
			entries = append(entries, key.URL)
		}
		result = append(result, storePayload{Name: name, Current: current[name], Entries: entries})
	}
	return result, nil
}

func renderDispatchError(c fiber.Ctx, logger *logrus.Logger, event string, err error) error {
	if errors.Is(err, worker.ErrNotHandled) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event_not_handled", "event": event})
	}
	logError(logger, event, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_failed", "event": event})
}

func decodeOptionalJSON(raw []byte, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func logError(logger *logrus.Logger, event string, err error) {
	if logger == nil {
		return
	}
	logger.WithError(err).WithFields(logrus.Fields{"action": "sw_admin", "event": event}).Warn("sw_admin_failed")
}
