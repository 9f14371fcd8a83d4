package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存名/请求目的地/策略/命中状态字段，供 fetch 日志复用。
func RequestFields(store, destination, strategy, source string, cacheHit bool) logrus.Fields {
	if destination == "" {
		destination = "default"
	}
	return logrus.Fields{
		"store":       store,
		"destination": destination,
		"strategy":    strategy,
		"source":      source,
		"cache_hit":   cacheHit,
	}
}

// LifecycleFields 描述 worker 生命周期事件（install/activate 等）的公共字段。
func LifecycleFields(event, version string) logrus.Fields {
	return logrus.Fields{
		"action":  "lifecycle",
		"event":   event,
		"version": version,
	}
}
