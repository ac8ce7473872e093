package license

import "strings"

// Fingerprint 客户端上报的硬件标识，空字符串视为未提供
type Fingerprint struct {
	KeyproID      string
	MotherboardID string
	DiskID        string
}

func (f Fingerprint) Empty() bool {
	return f.KeyproID == "" && f.MotherboardID == "" && f.DiskID == ""
}

// DefaultDiskIDBlacklist 无识别意义的 disk_id 名单，可通过配置扩充
var DefaultDiskIDBlacklist = []string{"DAHA"}

// invalidKeyproValues 客户端在 KeyPro 缺失时可能上报的占位值
var invalidKeyproValues = map[string]bool{
	"":          true,
	"NO_KEYPRO": true,
	"None":      true,
	"Unknown":   true,
}

// IsValidKeypro 判断 keypro_id 是否为有效值
func IsValidKeypro(keyproID string) bool {
	return !invalidKeyproValues[keyproID]
}

// IsValidDiskID 判断 disk_id 是否可作为机器识别依据：
// - 以 "Volume" 开头的视为无意义
// - 在黑名单中的也视为无意义
// 注意这里是前缀匹配，拉黑前置检查用的是更宽松的子串匹配，两者刻意不同
func IsValidDiskID(diskID string, blacklist []string) bool {
	if diskID == "" {
		return false
	}
	if strings.HasPrefix(diskID, "Volume") {
		return false
	}
	for _, b := range blacklist {
		if diskID == b {
			return false
		}
	}
	return true
}

// IsAmbiguousDiskID 拉黑前置检查专用：disk_id 包含 "Volume" 或 "DAHA" 子串
// 即视为模糊标识。拒绝路径宁可误匹配也不放过，与放行路径的前缀判断不一致是有意为之
func IsAmbiguousDiskID(diskID string) bool {
	for _, part := range []string{"Volume", "DAHA"} {
		if strings.Contains(diskID, part) {
			return true
		}
	}
	return false
}
