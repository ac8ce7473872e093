package service

import "sync"

// licenseLocks 按序号的进程内互斥锁。激活数量检查与写入必须
// 对同一许可证串行执行，否则并发激活会突破授权上限。
// 锁条目按序号累积不回收，上限为序号总数，量级可接受
type licenseLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// licenseLockTable 全进程共享，公开接口与管理端补登走同一把锁
var licenseLockTable = newLicenseLocks()

func newLicenseLocks() *licenseLocks {
	return &licenseLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *licenseLocks) lock(serialNumber string) func() {
	l.mu.Lock()
	m, ok := l.locks[serialNumber]
	if !ok {
		m = &sync.Mutex{}
		l.locks[serialNumber] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
