package skills

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// FileLoader 从 yaml 文件加载同义词表，格式为 规范名: [别名...]
type FileLoader struct {
	Path string
}

// Load 实现 Loader
func (l FileLoader) Load(ctx context.Context) (map[string][]string, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("读取同义词文件失败: %w", err)
	}
	groups := make(map[string][]string)
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("解析同义词文件失败: %w", err)
	}
	return groups, nil
}

// RedisLoader 从 Redis Hash 加载同义词表：field 为规范名，value 为逗号分隔的别名
type RedisLoader struct {
	Client redis.Cmdable
	Key    string
	// MergeBuiltin 为 true 时在内置表基础上叠加 Redis 中的条目
	MergeBuiltin bool
}

// Load 实现 Loader
func (l RedisLoader) Load(ctx context.Context) (map[string][]string, error) {
	entries, err := l.Client.HGetAll(ctx, l.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("读取Redis同义词表失败: %w", err)
	}
	groups := make(map[string][]string, len(entries)+len(builtinSynonyms))
	if l.MergeBuiltin {
		for c, aliases := range builtinSynonyms {
			groups[c] = append([]string(nil), aliases...)
		}
	}
	for canonical, raw := range entries {
		var aliases []string
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		groups[canonical] = append(groups[canonical], aliases...)
	}
	return groups, nil
}

// SaveToRedis 把同义词表写入 Redis Hash，供其它实例通过 RedisLoader 读取
func SaveToRedis(ctx context.Context, client redis.Cmdable, key string, groups map[string][]string) error {
	if len(groups) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(groups))
	for c, aliases := range groups {
		values[c] = strings.Join(aliases, ",")
	}
	return client.HSet(ctx, key, values).Err()
}
