package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RevalidateTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RevalidateTimeout", "必须大于 0")
	}

	if err := c.Site.validate(); err != nil {
		return err
	}
	if err := c.Worker.validate(); err != nil {
		return err
	}
	return c.Push.validate()
}

func (s SiteConfig) validate() error {
	if err := validateDomain(s.Domain); err != nil {
		return fmt.Errorf("Site.Domain: %w", err)
	}
	if err := validateUpstream(s.Origin); err != nil {
		return fmt.Errorf("Site.Origin: %w", err)
	}
	if !strings.HasPrefix(s.WorkerPath, "/") || strings.HasPrefix(s.WorkerPath, "/-/") {
		return newFieldError("Site.WorkerPath", "必须以 / 开头且不能位于 /-/ 诊断前缀下")
	}
	return nil
}

func (w WorkerConfig) validate() error {
	if !semverPattern.MatchString(w.Version) {
		return newFieldError("Worker.Version", "必须是 major.minor.patch 形式")
	}

	prefixes := map[string]string{
		"Worker.StaticPrefix":  w.StaticPrefix,
		"Worker.DynamicPrefix": w.DynamicPrefix,
		"Worker.LegacyPrefix":  w.LegacyPrefix,
	}
	seen := make(map[string]string, len(prefixes))
	for _, field := range []string{"Worker.StaticPrefix", "Worker.DynamicPrefix", "Worker.LegacyPrefix"} {
		prefix := strings.TrimSpace(prefixes[field])
		if prefix == "" {
			return newFieldError(field, "不能为空")
		}
		if strings.ContainsAny(prefix, `/\ `) {
			return newFieldError(field, "不允许包含路径分隔符或空格")
		}
		if other, dup := seen[prefix]; dup {
			return newFieldError(field, "与 "+other+" 重复")
		}
		seen[prefix] = field
	}

	for i, raw := range w.StaticURLs {
		if err := validateManifestURL(raw); err != nil {
			return newFieldError(fmt.Sprintf("Worker.StaticURLs[%d]", i), err.Error())
		}
	}
	for i, raw := range w.DynamicURLs {
		if err := validateManifestURL(raw); err != nil {
			return newFieldError(fmt.Sprintf("Worker.DynamicURLs[%d]", i), err.Error())
		}
	}
	for i, tag := range w.SyncTags {
		if strings.TrimSpace(tag) == "" {
			return newFieldError(fmt.Sprintf("Worker.SyncTags[%d]", i), "不能为空")
		}
	}
	return nil
}

func (p PushConfig) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return newFieldError("Push.Title", "不能为空")
	}
	if !strings.HasPrefix(p.OpenURL, "/") {
		return newFieldError("Push.OpenURL", "必须是站内路径")
	}
	for i, ms := range p.Vibrate {
		if ms < 0 {
			return newFieldError(fmt.Sprintf("Push.Vibrate[%d]", i), "不能为负数")
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateManifestURL 允许站内路径（/ 开头）或完整的 http/https 地址。
func validateManifestURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("不能为空")
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return nil
	}
	return validateUpstream(raw)
}
