package worker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/portfolio-cache/internal/config"
)

// Config 是 worker 的不可变配置：版本号、缓存名前缀、预缓存清单与推送展示参数。
// New 会复制全部切片，运行期间不会被修改。
type Config struct {
	Version       string
	StaticPrefix  string
	DynamicPrefix string
	LegacyPrefix  string

	// Origin 用于解析清单中的站内相对路径，例如 https://portfolio.example.com。
	Origin      string
	StaticURLs  []string
	DynamicURLs []string
	SyncTags    []string

	Push PushOptions

	// RevalidateTimeout 限制后台再验证请求的最长耗时，<= 0 时不限制。
	RevalidateTimeout time.Duration
}

// PushOptions 描述推送通知的固定展示内容。
type PushOptions struct {
	Title       string
	DefaultBody string
	Icon        string
	Badge       string
	Vibrate     []int
	OpenURL     string
}

// StaticCacheName 返回当前静态缓存名。
func (c Config) StaticCacheName() string {
	return fmt.Sprintf("%s-v%s", c.StaticPrefix, c.Version)
}

// DynamicCacheName 返回当前动态缓存名。
func (c Config) DynamicCacheName() string {
	return fmt.Sprintf("%s-v%s", c.DynamicPrefix, c.Version)
}

// LegacyCacheName 返回只在清理时保留的旧缓存名。
func (c Config) LegacyCacheName() string {
	return fmt.Sprintf("%s-v%s", c.LegacyPrefix, c.Version)
}

// ConfigFrom 从进程配置派生 worker 配置。
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Version:       cfg.Worker.Version,
		StaticPrefix:  cfg.Worker.StaticPrefix,
		DynamicPrefix: cfg.Worker.DynamicPrefix,
		LegacyPrefix:  cfg.Worker.LegacyPrefix,
		Origin:        cfg.Site.Origin,
		StaticURLs:    cfg.Worker.StaticURLs,
		DynamicURLs:   cfg.Worker.DynamicURLs,
		SyncTags:      cfg.Worker.SyncTags,
		Push: PushOptions{
			Title:       cfg.Push.Title,
			DefaultBody: cfg.Push.DefaultBody,
			Icon:        cfg.Push.Icon,
			Badge:       cfg.Push.Badge,
			Vibrate:     cfg.Push.Vibrate,
			OpenURL:     cfg.Push.OpenURL,
		},
		RevalidateTimeout: cfg.Global.RevalidateTimeout.DurationValue(),
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return errors.New("worker version required")
	}
	if c.StaticPrefix == "" || c.DynamicPrefix == "" || c.LegacyPrefix == "" {
		return errors.New("cache prefixes required")
	}
	if c.StaticPrefix == c.DynamicPrefix || c.StaticPrefix == c.LegacyPrefix || c.DynamicPrefix == c.LegacyPrefix {
		return errors.New("cache prefixes must be distinct")
	}
	if _, err := c.originURL(); err != nil {
		return err
	}
	return nil
}

func (c Config) clone() Config {
	cloned := c
	cloned.StaticURLs = append([]string(nil), c.StaticURLs...)
	cloned.DynamicURLs = append([]string(nil), c.DynamicURLs...)
	cloned.SyncTags = append([]string(nil), c.SyncTags...)
	cloned.Push.Vibrate = append([]int(nil), c.Push.Vibrate...)
	if cloned.Push.OpenURL == "" {
		cloned.Push.OpenURL = "/"
	}
	return cloned
}

func (c Config) originURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, errors.New("origin required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %s", c.Origin)
	}
	return u, nil
}

// ResolveURL 将站内路径挂到 Origin 的基础路径下，绝对地址原样返回。
// 与宿主转发请求时的拼接规则一致，否则预缓存条目无法被命中。
func (c Config) ResolveURL(raw string) (string, error) {
	base, err := c.originURL()
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid manifest url %q: %w", raw, err)
	}
	if ref.Scheme != "" || ref.Host != "" {
		return base.ResolveReference(ref).String(), nil
	}
	return config.JoinOriginPath(base, ref.Path, ref.RawQuery), nil
}
