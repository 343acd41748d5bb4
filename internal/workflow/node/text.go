package node

import "strings"

// Excerpt 截取前 maxRunes 个字符用于日志，压平换行，截断时追加 "..."。
func Excerpt(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
