package worker

import "strings"

// Destination 是请求目的地（fetch Request.destination），空值代表默认目的地。
type Destination string

const (
	DestinationDefault  Destination = ""
	DestinationDocument Destination = "document"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
	DestinationImage    Destination = "image"
)

// ParseDestination 将 Sec-Fetch-Dest 等原始值规范化；"empty" 与空串都视为默认目的地。
func ParseDestination(raw string) Destination {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "empty" {
		return DestinationDefault
	}
	return Destination(normalized)
}

// Strategy 标识一次 fetch 采用的缓存策略。
type Strategy string

const (
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyNetworkFirst Strategy = "network-first"
)

// Classify 为 GET 请求选择策略：文档/样式/脚本/默认目的地走 cache-first，其余走 network-first。
func Classify(dest Destination) Strategy {
	switch dest {
	case DestinationDocument, DestinationStyle, DestinationScript, DestinationDefault:
		return StrategyCacheFirst
	default:
		return StrategyNetworkFirst
	}
}

// Source 表示响应来自缓存还是网络。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)
