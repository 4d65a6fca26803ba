// Package textnorm 清理从文档中提取出的原始文本。
package textnorm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"resume-match-go/internal/errs"
)

// MinTextLength 可进入抽取流程的最短文本长度（按字符计）
const MinTextLength = 50

var (
	horizontalSpaceRe = regexp.MustCompile(`[ \t\f\v\x{00A0}\x{2000}-\x{200B}\x{3000}]+`)
	blankLinesRe      = regexp.MustCompile(`\n{3,}`)
)

// Normalize 清理原始文本：修复非法 UTF-8、做 NFKC 规范化、去除控制字符、
// 合并连续空白并去掉首尾空白。多余的空行最多保留一行。
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	text := strings.ToValidUTF8(raw, "")
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u200b' || r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Validate 检查规范化后的文本是否足够长
func Validate(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < MinTextLength {
		return errs.NewInvalidInputError("normalize", fmt.Sprintf("文本长度不足: %d < %d", n, MinTextLength))
	}
	return nil
}

// NormalizeAndValidate 规范化并校验
func NormalizeAndValidate(raw string) (string, error) {
	text := Normalize(raw)
	if err := Validate(text); err != nil {
		return "", err
	}
	return text, nil
}

// FirstNonEmptyLine 返回第一行非空文本
func FirstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}
