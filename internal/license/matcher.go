package license

import (
	"license-server/internal/model"
)

// Rule 单条匹配规则，命中时返回池中的启用记录，未命中返回 nil
type Rule interface {
	Name() string
	Match(machineCode string, fp Fingerprint, pool []model.Activation) *model.Activation
}

// ExactTagRule 机器码前16位完全一致即命中，优先级最高
type ExactTagRule struct{}

func (ExactTagRule) Name() string { return "machine_tag" }

func (ExactTagRule) Match(machineCode string, _ Fingerprint, pool []model.Activation) *model.Activation {
	tag := model.MachineTag(machineCode)
	for i := range pool {
		if pool[i].MachineTag() == tag {
			return &pool[i]
		}
	}
	return nil
}

// HardwareIDRule 任一硬件ID与已存记录相同即命中，
// disk_id 需通过有效性过滤后才参与比对
type HardwareIDRule struct {
	DiskIDBlacklist []string
}

func (HardwareIDRule) Name() string { return "hardware_id" }

func (r HardwareIDRule) Match(_ string, fp Fingerprint, pool []model.Activation) *model.Activation {
	if fp.Empty() {
		return nil
	}
	diskUsable := fp.DiskID != "" && IsValidDiskID(fp.DiskID, r.DiskIDBlacklist)
	for i := range pool {
		a := &pool[i]
		if fp.KeyproID != "" && a.KeyproID == fp.KeyproID {
			return a
		}
		if fp.MotherboardID != "" && a.MotherboardID == fp.MotherboardID {
			return a
		}
		if diskUsable && a.DiskID == fp.DiskID {
			return a
		}
	}
	return nil
}

// FingerprintSnapshot 换绑前的原始指纹，供后续变化比对使用，
// 避免下游逻辑依赖"某个变量是否存在"
type FingerprintSnapshot struct {
	MachineCode string
	Fingerprint Fingerprint
	AppVersion  string
}

func SnapshotOf(a *model.Activation) *FingerprintSnapshot {
	return &FingerprintSnapshot{
		MachineCode: a.MachineCode,
		Fingerprint: Fingerprint{
			KeyproID:      a.KeyproID,
			MotherboardID: a.MotherboardID,
			DiskID:        a.DiskID,
		},
		AppVersion: a.AppVersion,
	}
}

// MatchOutcome 匹配结果：命中的启用记录、命中的规则，
// 以及发生换绑时的原始指纹快照
type MatchOutcome struct {
	Activation *model.Activation
	RuleName   string
	Rebound    bool
	Prior      *FingerprintSnapshot
}

func (o *MatchOutcome) Matched() bool { return o != nil && o.Activation != nil }

// Matcher 按优先级顺序执行匹配规则
type Matcher struct {
	rules []Rule
}

func NewMatcher(diskIDBlacklist []string) *Matcher {
	if diskIDBlacklist == nil {
		diskIDBlacklist = DefaultDiskIDBlacklist
	}
	return &Matcher{
		rules: []Rule{
			ExactTagRule{},
			HardwareIDRule{DiskIDBlacklist: diskIDBlacklist},
		},
	}
}

// Match 在给定的启用记录池中查找至多一条匹配记录
func (m *Matcher) Match(machineCode string, fp Fingerprint, pool []model.Activation) *MatchOutcome {
	for _, rule := range m.rules {
		if a := rule.Match(machineCode, fp, pool); a != nil {
			return &MatchOutcome{Activation: a, RuleName: rule.Name()}
		}
	}
	return &MatchOutcome{}
}

// MatchBlacklisted 拉黑前置检查，pool 应只含 blacklisted 记录。
// 先做机器码+主板+硬盘的精确比对，再做硬件ID比对；
// 此处 disk_id 用子串判断，比放行路径更宽松
func (m *Matcher) MatchBlacklisted(machineCode string, fp Fingerprint, pool []model.Activation) *model.Activation {
	for i := range pool {
		a := &pool[i]
		if a.MachineCode == machineCode && a.MotherboardID == fp.MotherboardID && a.DiskID == fp.DiskID {
			return a
		}
	}
	if fp.Empty() {
		return nil
	}
	diskUsable := fp.DiskID != "" && IsAmbiguousDiskID(fp.DiskID)
	for i := range pool {
		a := &pool[i]
		if fp.KeyproID != "" && a.KeyproID == fp.KeyproID {
			return a
		}
		if fp.MotherboardID != "" && a.MotherboardID == fp.MotherboardID {
			return a
		}
		if diskUsable && a.DiskID == fp.DiskID {
			return a
		}
	}
	return nil
}
