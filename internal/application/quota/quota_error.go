package quota

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	wfnode "story-summary-ai/internal/workflow/node"
	apperrors "story-summary-ai/pkg/errors"
)

var quotaErrorTerms = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"429",
	"resource exhausted",
	"resource_exhausted",
}

var (
	quotaValuePattern = regexp.MustCompile(`quotaValue["\s:]*"?(\d+)"?`)
	retryDelayPattern = regexp.MustCompile(`retryDelay["\s:]*"?(\d+)s?"?`)
	durationPattern   = regexp.MustCompile(`^(\d+(?:\.\d+)?)s?$`)
)

const (
	quotaFailureType = "google.rpc.QuotaFailure"
	retryInfoType    = "google.rpc.RetryInfo"
)

// QuotaErrorInfo 从限流错误中解析出的服务端提示，零值表示未提供
type QuotaErrorInfo struct {
	// QuotaValue 服务端告知的每分钟配额
	QuotaValue int
	// RetryDelay 服务端建议的重试等待时间
	RetryDelay time.Duration
}

// IsQuotaError 判断错误是否为限流/配额类的临时错误
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperrors.ErrTooManyRequests) || errors.Is(err, apperrors.ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, term := range quotaErrorTerms {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}

// ParseQuotaError 解析 Google RPC 风格的错误详情 (QuotaFailure / RetryInfo)。
// 优先按 JSON 结构解析，结构缺失时退回正则匹配。
func ParseQuotaError(msg string) QuotaErrorInfo {
	info := parseStructured(msg)
	if info.QuotaValue == 0 {
		if m := quotaValuePattern.FindStringSubmatch(msg); m != nil {
			info.QuotaValue, _ = strconv.Atoi(m[1])
		}
	}
	if info.RetryDelay == 0 {
		if m := retryDelayPattern.FindStringSubmatch(msg); m != nil {
			if secs, err := strconv.Atoi(m[1]); err == nil {
				info.RetryDelay = time.Duration(secs) * time.Second
			}
		}
	}
	return info
}

type rpcErrorEnvelope struct {
	Error struct {
		Code    int            `json:"code"`
		Status  string         `json:"status"`
		Details []rpcErrDetail `json:"details"`
	} `json:"error"`
}

type rpcErrDetail struct {
	Type       string `json:"@type"`
	Violations []struct {
		QuotaValue json.RawMessage `json:"quotaValue"`
	} `json:"violations"`
	RetryDelay string `json:"retryDelay"`
}

func parseStructured(msg string) QuotaErrorInfo {
	var info QuotaErrorInfo

	raw := wfnode.ExtractJSONObject(msg)
	if raw == "" {
		return info
	}

	var envelopes []rpcErrorEnvelope
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &envelopes); err != nil {
			return info
		}
	} else {
		var env rpcErrorEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return info
		}
		envelopes = append(envelopes, env)
	}

	for _, env := range envelopes {
		for _, d := range env.Error.Details {
			switch {
			case strings.HasSuffix(d.Type, quotaFailureType) && len(d.Violations) > 0:
				if v := parseQuotaValue(d.Violations[0].QuotaValue); v > 0 && info.QuotaValue == 0 {
					info.QuotaValue = v
				}
			case strings.HasSuffix(d.Type, retryInfoType):
				if delay := parseRetryDelay(d.RetryDelay); delay > 0 && info.RetryDelay == 0 {
					info.RetryDelay = delay
				}
			}
		}
	}
	return info
}

// parseQuotaValue 兼容 "15" 与 15 两种写法
func parseQuotaValue(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

// parseRetryDelay 解析 "12s" / "12" / "1.5s"
func parseRetryDelay(s string) time.Duration {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
