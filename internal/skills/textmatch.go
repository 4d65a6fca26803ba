package skills

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TermIndex 在自由文本中按词边界查找固定词表，返回规范名
type TermIndex struct {
	terms     []string // 长词在前
	canonical map[string]string
}

// NewTermIndex 由 词条 -> 规范名 构建索引，词条不区分大小写
func NewTermIndex(terms map[string]string) *TermIndex {
	idx := &TermIndex{canonical: make(map[string]string, len(terms))}
	for t, c := range terms {
		t = key(t)
		if t == "" {
			continue
		}
		idx.canonical[t] = c
		idx.terms = append(idx.terms, t)
	}
	sort.Slice(idx.terms, func(i, j int) bool {
		if len(idx.terms[i]) != len(idx.terms[j]) {
			return len(idx.terms[i]) > len(idx.terms[j])
		}
		return idx.terms[i] < idx.terms[j]
	})
	return idx
}

// Find 返回文本中出现的规范名，按首次出现位置排序并去重；没有命中返回 nil
func (idx *TermIndex) Find(text string) []string {
	if idx == nil || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	first := make(map[string]int)
	for _, t := range idx.terms {
		pos := indexWord(lower, t)
		if pos < 0 {
			continue
		}
		c := idx.canonical[t]
		if old, ok := first[c]; !ok || pos < old {
			first[c] = pos
		}
	}
	if len(first) == 0 {
		return nil
	}
	out := make([]string, 0, len(first))
	for c := range first {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if first[out[i]] != first[out[j]] {
			return first[out[i]] < first[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// indexWord 查找 term 作为完整词出现的第一个位置
func indexWord(s, term string) int {
	from := 0
	for from <= len(s)-len(term) {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(term)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before) && before != '.') && (end == len(s) || !isWordRune(after)) {
			return start
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return -1
}

// isWordRune 汉字之间没有空格，视为词边界
func isWordRune(r rune) bool {
	if unicode.Is(unicode.Han, r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '_'
}
