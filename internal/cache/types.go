package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 管理全部具名缓存，对应浏览器中的 CacheStorage。
type Storage interface {
	// Open 打开指定名称的缓存，不存在时创建（open-or-create 语义）。
	Open(ctx context.Context, name string) (Store, error)

	// Has 判断缓存是否存在，不会隐式创建。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整份缓存及其全部条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 返回当前所有缓存名，按名称排序。
	Keys(ctx context.Context) ([]string, error)
}

// Store 是单个具名缓存，负责请求标识到响应快照的映射。
type Store interface {
	Name() string

	// Match 返回与 key 对应的响应副本，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入响应快照；同一 key 重复写入以最后一次为准。
	Put(ctx context.Context, key Key, resp *Response) error

	// Delete 删除单个条目，返回删除前是否存在。
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys 返回当前缓存中的全部请求标识。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位一个缓存条目（方法 + 绝对 URL）。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化方法名，空方法视为 GET。
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: rawURL}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Response 是一次响应的不可变快照。需要同时返回与持久化时必须先 Clone。
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	URL      string      `json:"url"`
	StoredAt time.Time   `json:"stored_at,omitempty"`
}

// Clone 深拷贝响应头与正文，返回与原值互不影响的副本。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// OK 对应 fetch Response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存名无法映射为安全的目录名。
	ErrInvalidName = errors.New("invalid cache name")
	// ErrUnsupportedMethod 表示仅 GET 请求可以被缓存。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")
)
