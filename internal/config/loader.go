package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认预缓存清单，与站点首屏依赖的资源保持一致。
var (
	defaultStaticURLs = []string{
		"/",
		"/index.html",
		"/styles.css",
		"/script.js",
		"/image.png",
		"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
		"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap",
		"https://unpkg.com/aos@2.3.1/dist/aos.css",
		"https://unpkg.com/aos@2.3.1/dist/aos.js",
	}
	defaultDynamicURLs = []string{
		"https://images.unsplash.com/photo-1586528116311-ad8dd3c8310d?w=400&h=250&fit=crop&auto=format&q=80",
		"https://images.unsplash.com/photo-1563013544-824ae1b704d3?w=400&h=250&fit=crop&auto=format&q=80",
		"https://images.unsplash.com/photo-1576091160399-112ba8d25d1f?w=400&h=250&fit=crop&auto=format&q=80",
	}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySiteDefaults(&cfg.Site)
	applyWorkerDefaults(&cfg.Worker)
	applyPushDefaults(&cfg.Push)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("RevalidateTimeout", "30s")

	v.SetDefault("Site.Name", "portfolio")
	v.SetDefault("Site.WorkerPath", "/sw.js")

	v.SetDefault("Worker.Version", "2.0.0")
	v.SetDefault("Worker.StaticPrefix", "static")
	v.SetDefault("Worker.DynamicPrefix", "dynamic")
	v.SetDefault("Worker.LegacyPrefix", "portfolio")
	v.SetDefault("Worker.SyncTags", []string{"background-sync"})

	v.SetDefault("Push.Title", "Gourav Jain Portfolio")
	v.SetDefault("Push.DefaultBody", "New update available!")
	v.SetDefault("Push.Icon", "/image.png")
	v.SetDefault("Push.Badge", "/image.png")
	v.SetDefault("Push.Vibrate", []int{100, 50, 100})
	v.SetDefault("Push.OpenURL", "/")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.RevalidateTimeout.DurationValue() == 0 {
		g.RevalidateTimeout = Duration(30 * time.Second)
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	if strings.TrimSpace(s.WorkerPath) == "" {
		s.WorkerPath = "/sw.js"
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	w.Version = strings.TrimPrefix(strings.TrimSpace(w.Version), "v")
	if w.StaticURLs == nil {
		w.StaticURLs = append([]string(nil), defaultStaticURLs...)
	}
	if w.DynamicURLs == nil {
		w.DynamicURLs = append([]string(nil), defaultDynamicURLs...)
	}
}

func applyPushDefaults(p *PushConfig) {
	if strings.TrimSpace(p.OpenURL) == "" {
		p.OpenURL = "/"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
