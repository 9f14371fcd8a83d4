package config

import (
	"net/url"
	"strings"
)

// JoinOriginPath 把站内路径挂到源站基础路径之下，例如
// https://user.github.io/portfolio/ + /styles.css → https://user.github.io/portfolio/styles.css。
// 预缓存与请求转发共用该函数，保证两边生成的缓存键一致。
func JoinOriginPath(origin *url.URL, path, rawQuery string) string {
	target := *origin
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target.Path = strings.TrimSuffix(origin.Path, "/") + path
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return target.String()
}
