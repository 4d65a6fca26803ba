// Package skills 负责把原始技能词规范化为统一的技能名。
package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"resume-match-go/internal/logger"
)

// Table 一份不可变的同义词表快照
type Table struct {
	synonyms   map[string]string // 小写词条 -> 规范名
	vocabulary []string          // 排序后的规范名
	freeText   *TermIndex        // 不含歧义短词，用于自由文本
}

// NewTable 由 规范名 -> 别名列表 构建同义词表。
// 规范名总是映射到自身，保证规范化结果再次规范化时不变。
func NewTable(groups map[string][]string) *Table {
	synonyms := make(map[string]string, len(groups)*3)
	canonicals := make(map[string]struct{}, len(groups))
	for canonical, aliases := range groups {
		c := key(canonical)
		if c == "" {
			continue
		}
		canonicals[c] = struct{}{}
		for _, a := range aliases {
			if k := key(a); k != "" {
				synonyms[k] = c
			}
		}
	}
	// 规范名优先于同名别名
	for c := range canonicals {
		synonyms[c] = c
	}
	vocab := make([]string, 0, len(canonicals))
	for c := range canonicals {
		vocab = append(vocab, c)
	}
	sort.Strings(vocab)

	free := make(map[string]string, len(synonyms))
	for term, c := range synonyms {
		if !ambiguousTerms[term] {
			free[term] = c
		}
	}
	return &Table{synonyms: synonyms, vocabulary: vocab, freeText: NewTermIndex(free)}
}

// Size 词条数量
func (t *Table) Size() int { return len(t.synonyms) }

func key(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Loader 同义词表数据源
type Loader interface {
	Load(ctx context.Context) (map[string][]string, error)
}

// LoaderFunc 函数形式的 Loader
type LoaderFunc func(ctx context.Context) (map[string][]string, error)

// Load 实现 Loader
func (f LoaderFunc) Load(ctx context.Context) (map[string][]string, error) { return f(ctx) }

// BuiltinLoader 使用内置同义词表
var BuiltinLoader Loader = LoaderFunc(func(context.Context) (map[string][]string, error) {
	return builtinSynonyms, nil
})

// Knowledge 进程内共享的技能知识缓存。
// 首次使用时加载；Reload 构建新表后整体替换指针，读者永远看到完整的一份表。
type Knowledge struct {
	table  atomic.Pointer[Table]
	loader Loader
	mu     sync.Mutex // 串行化加载，读路径不加锁
	logger zerolog.Logger
}

// Option Knowledge 配置项
type Option func(*Knowledge)

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(k *Knowledge) { k.logger = l }
}

// NewKnowledge 创建技能知识缓存，loader 为 nil 时使用内置表
func NewKnowledge(loader Loader, opts ...Option) *Knowledge {
	if loader == nil {
		loader = BuiltinLoader
	}
	k := &Knowledge{loader: loader, logger: logger.Named("skills")}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// current 返回当前表，尚未加载时同步加载一次。加载失败退回内置表。
func (k *Knowledge) current() *Table {
	if t := k.table.Load(); t != nil {
		return t
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if t := k.table.Load(); t != nil {
		return t
	}
	t, err := k.build(context.Background())
	if err != nil {
		k.logger.Warn().Err(err).Msg("加载技能同义词表失败，使用内置表")
		t = NewTable(builtinSynonyms)
	}
	k.table.Store(t)
	return t
}

func (k *Knowledge) build(ctx context.Context) (*Table, error) {
	groups, err := k.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("同义词表为空")
	}
	return NewTable(groups), nil
}

// Reload 重新加载同义词表并原子替换。加载失败时保留旧表。
func (k *Knowledge) Reload(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.build(ctx)
	if err != nil {
		return fmt.Errorf("重新加载技能同义词表失败: %w", err)
	}
	k.table.Store(t)
	k.logger.Info().Int("terms", t.Size()).Int("skills", len(t.vocabulary)).Msg("技能同义词表已更新")
	return nil
}

// Canonical 返回单个词的规范名；不在表中的词返回其小写形式
func (k *Knowledge) Canonical(term string) string {
	kk := key(term)
	if kk == "" {
		return ""
	}
	if c, ok := k.current().synonyms[kk]; ok {
		return c
	}
	return kk
}

// Known 词是否在同义词表中
func (k *Knowledge) Known(term string) bool {
	_, ok := k.current().synonyms[key(term)]
	return ok
}

// Normalize 规范化技能列表：小写、去空白、同义词映射、去重。
// 输入为空或全为空白时返回 nil（缺失），而不是空切片。
func (k *Knowledge) Normalize(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	table := k.current()
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, r := range raw {
		kk := key(r)
		if kk == "" {
			continue
		}
		c, ok := table.synonyms[kk]
		if !ok {
			c = kk
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FindInText 在自由文本中查找已知技能，返回规范名（按出现顺序）。
// "go"、"js" 这类歧义短词不参与匹配。
func (k *Knowledge) FindInText(text string) []string {
	return k.current().freeText.Find(text)
}

// Vocabulary 返回全部规范名（已排序的副本）
func (k *Knowledge) Vocabulary() []string {
	v := k.current().vocabulary
	return append([]string(nil), v...)
}

// Terms 返回 词条 -> 规范名 的副本
func (k *Knowledge) Terms() map[string]string {
	src := k.current().synonyms
	out := make(map[string]string, len(src))
	for t, c := range src {
		out[t] = c
	}
	return out
}
