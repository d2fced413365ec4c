package allowlist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/shipyard/internal/httputil"
)

// StaticSource serves a fixed list.
type StaticSource []string

// Load implements Source.
func (s StaticSource) Load(context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// HTTPSource fetches the list from a JSON endpoint. The body may be a bare
// array of addresses or an object carrying them under "addresses".
type HTTPSource struct {
	client *httputil.ServiceClient
	path   string
}

// NewHTTPSource creates a source reading path through client.
func NewHTTPSource(client *httputil.ServiceClient, path string) *HTTPSource {
	return &HTTPSource{client: client, path: path}
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context) ([]string, error) {
	resp, err := s.client.Get(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("fetch allow-list: %w", err)
	}
	var raw json.RawMessage
	if err := httputil.DecodeResponse(resp, &raw); err != nil {
		return nil, fmt.Errorf("fetch allow-list: %w", err)
	}
	return parseAddressList(raw)
}

func parseAddressList(raw []byte) ([]string, error) {
	doc := gjson.ParseBytes(raw)
	list := doc
	if doc.IsObject() {
		list = doc.Get("addresses")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("allow-list response is not a list of addresses")
	}
	var out []string
	list.ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String {
			if s := strings.TrimSpace(value.String()); s != "" {
				out = append(out, s)
			}
		}
		return true
	})
	return out, nil
}

// SetReader is the subset of a Redis client the Redis source needs.
type SetReader interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisSource reads the list from the members of a Redis set.
type RedisSource struct {
	client SetReader
	key    string
}

// NewRedisSource creates a source reading the set stored at key.
func NewRedisSource(client SetReader, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Load implements Source.
func (s *RedisSource) Load(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read allow-list set %q: %w", s.key, err)
	}
	return members, nil
}
