package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志与缓存目录。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	RevalidateTimeout Duration `mapstructure:"RevalidateTimeout"`
}

// SiteConfig 描述被托管的作品集站点：对外域名、源站地址以及 worker 注册路径。
type SiteConfig struct {
	Name       string `mapstructure:"Name"`
	Domain     string `mapstructure:"Domain"`
	Origin     string `mapstructure:"Origin"`
	WorkerPath string `mapstructure:"WorkerPath"`
}

// WorkerConfig 对应缓存 worker 的版本号、缓存名前缀与预缓存清单。
type WorkerConfig struct {
	Version       string   `mapstructure:"Version"`
	StaticPrefix  string   `mapstructure:"StaticPrefix"`
	DynamicPrefix string   `mapstructure:"DynamicPrefix"`
	LegacyPrefix  string   `mapstructure:"LegacyPrefix"`
	StaticURLs    []string `mapstructure:"StaticURLs"`
	DynamicURLs   []string `mapstructure:"DynamicURLs"`
	SyncTags      []string `mapstructure:"SyncTags"`
}

// PushConfig 决定推送通知的展示内容。
type PushConfig struct {
	Title       string `mapstructure:"Title"`
	DefaultBody string `mapstructure:"DefaultBody"`
	Icon        string `mapstructure:"Icon"`
	Badge       string `mapstructure:"Badge"`
	Vibrate     []int  `mapstructure:"Vibrate"`
	OpenURL     string `mapstructure:"OpenURL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Site   SiteConfig   `mapstructure:"Site"`
	Worker WorkerConfig `mapstructure:"Worker"`
	Push   PushConfig   `mapstructure:"Push"`
}

// ManifestHosts 汇总预缓存清单中出现的第三方主机名（去重、保持出现顺序）。
func (w WorkerConfig) ManifestHosts() []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, list := range [][]string{w.StaticURLs, w.DynamicURLs} {
		for _, raw := range list {
			u, err := url.Parse(raw)
			if err != nil || u.Host == "" {
				continue
			}
			host := strings.ToLower(u.Hostname())
			if _, ok := seen[host]; ok {
				continue
			}
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}
	return hosts
}
