package util

import "strings"

// DeviceProfile 提交元数据里的粗粒度设备分类
type DeviceProfile struct {
	DeviceClass string // mobile, tablet, desktop
	Browser     string
	OS          string
}

// ClassifyUserAgent 从 User-Agent 粗分设备/浏览器/系统，识别不了就归 unknown。
// 评分端只做统计用途，不追求精确解析。
func ClassifyUserAgent(ua string) DeviceProfile {
	lower := strings.ToLower(ua)
	p := DeviceProfile{DeviceClass: "desktop", Browser: "unknown", OS: "unknown"}
	if ua == "" {
		p.DeviceClass = "unknown"
		return p
	}

	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"):
		p.DeviceClass = "tablet"
	case strings.Contains(lower, "mobile"), strings.Contains(lower, "iphone"), strings.Contains(lower, "android"):
		p.DeviceClass = "mobile"
	}

	switch {
	case strings.Contains(lower, "edg/"):
		p.Browser = "edge"
	case strings.Contains(lower, "firefox"):
		p.Browser = "firefox"
	case strings.Contains(lower, "chrome"):
		p.Browser = "chrome"
	case strings.Contains(lower, "safari"):
		p.Browser = "safari"
	}

	switch {
	case strings.Contains(lower, "windows"):
		p.OS = "windows"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		p.OS = "ios"
	case strings.Contains(lower, "android"):
		p.OS = "android"
	case strings.Contains(lower, "mac os"):
		p.OS = "macos"
	case strings.Contains(lower, "linux"):
		p.OS = "linux"
	}

	return p
}
