package llm

import (
	"regexp"
	"strings"
)

var codeFenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// StripCodeFence 去掉 ```json ... ``` 之类的代码块标记，没有代码块时原样返回
func StripCodeFence(text string) string {
	if m := codeFenceRe.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ExtractJSONObject 从模型回复中取出第一个完整的 JSON 对象。
// 先去掉代码块标记，再按括号层级匹配，字符串内的括号不计入层级。
func ExtractJSONObject(text string) string {
	text = StripCodeFence(text)
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
