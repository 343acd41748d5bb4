package node

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject 从模型输出或错误信息中截取第一个 JSON 对象/数组。
// 模型可能用 ```json 包裹输出，错误信息通常在 JSON 前夹带状态描述。
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start, end := -1, -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	if !json.Valid([]byte(raw)) {
		return ""
	}
	return raw
}
