package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBasic(t *testing.T) {
	k := NewKnowledge(nil)

	got := k.Normalize([]string{"  Golang ", "JS", "ReactJS", "Postgres", "python", "Python3", "Kafka Streams"})
	assert.Equal(t, []string{"go", "javascript", "react", "postgresql", "python", "kafka streams"}, got)
}

// TestNormalizeAbsent 空输入返回 nil 表示缺失
func TestNormalizeAbsent(t *testing.T) {
	k := NewKnowledge(nil)
	assert.Nil(t, k.Normalize(nil))
	assert.Nil(t, k.Normalize([]string{}))
	assert.Nil(t, k.Normalize([]string{" ", ""}))
}

// TestNormalizeIdempotent 规范化结果再次规范化不变，且没有重复项
func TestNormalizeIdempotent(t *testing.T) {
	k := NewKnowledge(nil)
	inputs := [][]string{
		{"k8s", "Kubernetes", "kube", "docker-compose", "Docker"},
		{"C Sharp", "c#", ".NET Core", "dotnet"},
		{"Node", "node.js", "NodeJS", "unknown skill", "Unknown   Skill"},
	}
	for _, in := range inputs {
		once := k.Normalize(in)
		assert.Equal(t, once, k.Normalize(once))

		seen := map[string]bool{}
		for _, s := range once {
			assert.False(t, seen[s], "重复的规范名: %s", s)
			seen[s] = true
		}
	}
}

func TestCanonicalWinsOverAlias(t *testing.T) {
	// "rest" 同时是别名，且被定义为规范名
	table := NewTable(map[string][]string{
		"rest api": {"rest"},
		"rest":     {"representational state transfer"},
	})
	k := NewKnowledge(LoaderFunc(func(context.Context) (map[string][]string, error) {
		return map[string][]string{"rest api": {"rest"}, "rest": {"representational state transfer"}}, nil
	}))
	assert.Equal(t, "rest", k.Canonical("REST"))
	assert.Equal(t, "rest", k.Canonical("representational state transfer"))
	assert.Equal(t, 3, table.Size())
}

func TestReloadSwapsTable(t *testing.T) {
	version := 1
	loader := LoaderFunc(func(context.Context) (map[string][]string, error) {
		if version == 1 {
			return map[string][]string{"go": {"golang"}}, nil
		}
		return map[string][]string{"golang-dev": {"golang"}}, nil
	})
	k := NewKnowledge(loader)
	assert.Equal(t, "go", k.Canonical("Golang"))

	version = 2
	require.NoError(t, k.Reload(context.Background()))
	assert.Equal(t, "golang-dev", k.Canonical("Golang"))
	assert.Equal(t, []string{"golang-dev"}, k.Vocabulary())
}

// TestReloadFailureKeepsOldTable 加载失败时保留旧表
func TestReloadFailureKeepsOldTable(t *testing.T) {
	fail := false
	loader := LoaderFunc(func(context.Context) (map[string][]string, error) {
		if fail {
			return nil, errors.New("redis down")
		}
		return map[string][]string{"python": {"py"}}, nil
	})
	k := NewKnowledge(loader)
	assert.Equal(t, "python", k.Canonical("py"))

	fail = true
	assert.Error(t, k.Reload(context.Background()))
	assert.Equal(t, "python", k.Canonical("py"))
}

// TestLazyLoadFailureFallsBackToBuiltin 首次加载失败时使用内置表
func TestLazyLoadFailureFallsBackToBuiltin(t *testing.T) {
	k := NewKnowledge(LoaderFunc(func(context.Context) (map[string][]string, error) {
		return nil, errors.New("boom")
	}))
	assert.Equal(t, "kubernetes", k.Canonical("k8s"))
}

// TestConcurrentReadAndReload 并发读与重载不应出现数据竞争或半更新的表
func TestConcurrentReadAndReload(t *testing.T) {
	k := NewKnowledge(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				got := k.Normalize([]string{"golang", "k8s"})
				assert.Equal(t, []string{"go", "kubernetes"}, got)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, k.Reload(context.Background()))
	}
	wg.Wait()
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("go:\n  - golang\nkubernetes: [k8s]\n"), 0644))

	k := NewKnowledge(FileLoader{Path: path})
	assert.Equal(t, "go", k.Canonical("golang"))
	assert.Equal(t, []string{"go", "kubernetes"}, k.Vocabulary())

	_, err := FileLoader{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load(context.Background())
	assert.Error(t, err)
}

func TestFreeTextTermsSkipsAmbiguous(t *testing.T) {
	terms := FreeTextTerms()
	assert.Equal(t, "go", terms["golang"])
	_, hasGo := terms["go"]
	assert.False(t, hasGo, "go 在自由文本中歧义太大")
	assert.Equal(t, "postgresql", terms["postgresql"])
}

func TestFindInText(t *testing.T) {
	k := NewKnowledge(nil)
	got := k.FindInText("Нужен разработчик: Golang, PostgreSQL и немного k8s. Go is a plus")
	assert.Equal(t, []string{"go", "postgresql", "kubernetes"}, got)
	assert.Nil(t, k.FindInText("никаких навыков"))
}

func TestTermIndexBoundaries(t *testing.T) {
	idx := NewTermIndex(map[string]string{"java": "java", "c++": "c++", "机器学习": "machine learning", "sql": "sql"})
	assert.Equal(t, []string{"c++"}, idx.Find("JavaScript, PostgreSQL, C++"))
	assert.Equal(t, []string{"machine learning"}, idx.Find("熟悉机器学习算法"))
	assert.Equal(t, []string{"java", "sql"}, idx.Find("Java/SQL"))
	assert.Nil(t, (*TermIndex)(nil).Find("java"))
}
