package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/portfolio-cache/internal/config"
)

// OriginRoute 描述一个 Host 映射到的源站：站点域名指向 Site.Origin，
// 清单中出现的第三方主机名则原样经 https 访问。
type OriginRoute struct {
	// Host 为规范化后的主机名（小写、无端口）。
	Host string
	// Origin 是该 Host 对应的上游基础地址，请求路径与查询串拼接其后。
	Origin *url.URL
	// Site 为 true 表示站点本身，worker 注册路径只在站点上生效。
	Site bool
	// ListenPort 记录当前监听端口，便于日志输出。
	ListenPort int
}

// OriginRegistry 提供 Host/Host:port 到 OriginRoute 的查询能力。
type OriginRegistry struct {
	routes  map[string]*OriginRoute
	ordered []*OriginRoute
}

// NewOriginRegistry 根据配置构建 Host 映射，启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{routes: make(map[string]*OriginRoute)}

	siteHost := normalizeDomain(cfg.Site.Domain)
	if siteHost == "" {
		return nil, fmt.Errorf("invalid domain for site %s", cfg.Site.Name)
	}
	origin, err := url.Parse(cfg.Site.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin for site %s: %q", cfg.Site.Name, cfg.Site.Origin)
	}
	registry.add(&OriginRoute{Host: siteHost, Origin: origin, Site: true, ListenPort: cfg.Global.ListenPort})

	for _, host := range cfg.Worker.ManifestHosts() {
		normalized := normalizeDomain(host)
		if normalized == "" {
			continue
		}
		if _, exists := registry.routes[normalized]; exists {
			continue
		}
		registry.add(&OriginRoute{
			Host:       normalized,
			Origin:     &url.URL{Scheme: "https", Host: normalized},
			ListenPort: cfg.Global.ListenPort,
		})
	}

	return registry, nil
}

func (r *OriginRegistry) add(route *OriginRoute) {
	r.routes[route.Host] = route
	r.ordered = append(r.ordered, route)
}

// Lookup 根据 Host 或 Host:port 查找 OriginRoute。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 返回按注册顺序排列的路由副本，站点路由总在首位。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// Resolve 将请求路径与原始查询串拼接到路由的源站上，返回绝对地址。
func (route *OriginRoute) Resolve(path string, rawQuery string) string {
	return config.JoinOriginPath(route.Origin, path, rawQuery)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
