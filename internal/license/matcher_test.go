package license

import (
	"testing"

	"license-server/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestIsValidKeypro(t *testing.T) {
	tests := []struct {
		keyproID string
		want     bool
	}{
		{"KP-12345678", true},
		{"", false},
		{"NO_KEYPRO", false},
		{"None", false},
		{"Unknown", false},
		{"none", true}, // 大小写敏感
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidKeypro(tt.keyproID), "keypro_id=%q", tt.keyproID)
	}
}

func TestIsValidDiskID(t *testing.T) {
	tests := []struct {
		name   string
		diskID string
		want   bool
	}{
		{"normal_serial", "WD-WX11A12345678", true},
		{"empty", "", false},
		{"volume_prefix", "Volume{3f5e8a}", false},
		{"blacklisted", "DAHA", false},
		{"volume_in_middle_is_valid", "X-Volume-1", true},
		{"daha_substring_is_valid", "DAHA123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidDiskID(tt.diskID, DefaultDiskIDBlacklist))
		})
	}
}

func TestIsAmbiguousDiskID(t *testing.T) {
	// 子串匹配，比放行路径的前缀判断更宽松
	assert.True(t, IsAmbiguousDiskID("Volume{3f5e8a}"))
	assert.True(t, IsAmbiguousDiskID("X-Volume-1"))
	assert.True(t, IsAmbiguousDiskID("DAHA123"))
	assert.False(t, IsAmbiguousDiskID("WD-WX11A12345678"))
	assert.False(t, IsAmbiguousDiskID(""))
}

func TestMachineTag(t *testing.T) {
	assert.Equal(t, "0123456789abcdef", model.MachineTag("0123456789abcdef9999"))
	assert.Equal(t, "short", model.MachineTag("short"))
}

func makePool() []model.Activation {
	return []model.Activation{
		{
			ID:            1,
			MachineCode:   "aaaaaaaaaaaaaaaa-suffix1",
			KeyproID:      "KP-1",
			MotherboardID: "MB-1",
			DiskID:        "DISK-1",
			Status:        model.ActivationStatusActive,
		},
		{
			ID:            2,
			MachineCode:   "bbbbbbbbbbbbbbbb-suffix2",
			KeyproID:      "KP-2",
			MotherboardID: "MB-2",
			DiskID:        "DISK-2",
			Status:        model.ActivationStatusActive,
		},
	}
}

func TestMatcherTagTakesPrecedence(t *testing.T) {
	m := NewMatcher(nil)
	pool := makePool()

	// 机器码前16位命中第一条，即使硬件ID指向第二条
	fp := Fingerprint{KeyproID: "KP-2"}
	outcome := m.Match("aaaaaaaaaaaaaaaa-other", fp, pool)

	assert.True(t, outcome.Matched())
	assert.Equal(t, uint(1), outcome.Activation.ID)
	assert.Equal(t, "machine_tag", outcome.RuleName)
}

func TestMatcherHardwareIDFallback(t *testing.T) {
	m := NewMatcher(nil)
	pool := makePool()

	tests := []struct {
		name   string
		fp     Fingerprint
		wantID uint
	}{
		{"keypro_hit", Fingerprint{KeyproID: "KP-2"}, 2},
		{"motherboard_hit", Fingerprint{MotherboardID: "MB-1"}, 1},
		{"disk_hit", Fingerprint{DiskID: "DISK-2"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := m.Match("cccccccccccccccc-new", tt.fp, pool)
			assert.True(t, outcome.Matched())
			assert.Equal(t, tt.wantID, outcome.Activation.ID)
			assert.Equal(t, "hardware_id", outcome.RuleName)
		})
	}
}

func TestMatcherNoMatch(t *testing.T) {
	m := NewMatcher(nil)
	pool := makePool()

	outcome := m.Match("cccccccccccccccc-new", Fingerprint{KeyproID: "KP-9"}, pool)
	assert.False(t, outcome.Matched())

	// 指纹全空时不做硬件匹配
	outcome = m.Match("cccccccccccccccc-new", Fingerprint{}, pool)
	assert.False(t, outcome.Matched())
}

func TestMatcherIgnoresInvalidDiskID(t *testing.T) {
	m := NewMatcher(nil)
	pool := []model.Activation{
		{ID: 1, MachineCode: "aaaaaaaaaaaaaaaa", DiskID: "Volume{3f5e8a}", Status: model.ActivationStatusActive},
		{ID: 2, MachineCode: "bbbbbbbbbbbbbbbb", DiskID: "DAHA", Status: model.ActivationStatusActive},
	}

	// Volume 前缀与黑名单 disk_id 不参与放行匹配
	outcome := m.Match("cccccccccccccccc", Fingerprint{DiskID: "Volume{3f5e8a}"}, pool)
	assert.False(t, outcome.Matched())

	outcome = m.Match("cccccccccccccccc", Fingerprint{DiskID: "DAHA"}, pool)
	assert.False(t, outcome.Matched())
}

func TestMatchBlacklistedExactTriple(t *testing.T) {
	m := NewMatcher(nil)
	pool := []model.Activation{
		{
			ID:            7,
			MachineCode:   "aaaaaaaaaaaaaaaa-suffix1",
			MotherboardID: "MB-1",
			DiskID:        "DISK-1",
			Status:        model.ActivationStatusBlacklisted,
		},
	}

	hit := m.MatchBlacklisted("aaaaaaaaaaaaaaaa-suffix1",
		Fingerprint{MotherboardID: "MB-1", DiskID: "DISK-1"}, pool)
	assert.NotNil(t, hit)
	assert.Equal(t, uint(7), hit.ID)

	// 三元组有一项不同则不走精确比对
	hit = m.MatchBlacklisted("aaaaaaaaaaaaaaaa-suffix1",
		Fingerprint{MotherboardID: "MB-other", DiskID: "DISK-other"}, pool)
	assert.Nil(t, hit)
}

func TestMatchBlacklistedHardwareOr(t *testing.T) {
	m := NewMatcher(nil)
	pool := []model.Activation{
		{
			ID:            7,
			MachineCode:   "aaaaaaaaaaaaaaaa-suffix1",
			KeyproID:      "KP-1",
			MotherboardID: "MB-1",
			DiskID:        "Volume{3f5e8a}",
			Status:        model.ActivationStatusBlacklisted,
		},
	}

	// keypro 命中
	hit := m.MatchBlacklisted("zzzzzzzzzzzzzzzz", Fingerprint{KeyproID: "KP-1"}, pool)
	assert.NotNil(t, hit)

	// 拒绝路径上含 Volume 子串的 disk_id 仍参与比对
	hit = m.MatchBlacklisted("zzzzzzzzzzzzzzzz", Fingerprint{DiskID: "Volume{3f5e8a}"}, pool)
	assert.NotNil(t, hit)

	// 普通 disk_id 不含模糊子串，不参与拒绝路径比对
	pool[0].DiskID = "DISK-1"
	hit = m.MatchBlacklisted("zzzzzzzzzzzzzzzz", Fingerprint{DiskID: "DISK-1"}, pool)
	assert.Nil(t, hit)
}

func TestSnapshotOf(t *testing.T) {
	a := &model.Activation{
		MachineCode:   "aaaaaaaaaaaaaaaa-suffix1",
		KeyproID:      "KP-1",
		MotherboardID: "MB-1",
		DiskID:        "DISK-1",
		AppVersion:    "1.2.3",
	}
	snap := SnapshotOf(a)

	// 快照在记录被改写后保持原值
	a.MachineCode = "changed"
	a.KeyproID = "KP-2"

	assert.Equal(t, "aaaaaaaaaaaaaaaa-suffix1", snap.MachineCode)
	assert.Equal(t, "KP-1", snap.Fingerprint.KeyproID)
	assert.Equal(t, "1.2.3", snap.AppVersion)
}
