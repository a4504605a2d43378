package service

import (
	"os"
	"time"

	"delegate-relay-sol/internal/cache"
	"delegate-relay-sol/internal/pkg/logger"
)

// PolicyReloadService 定时检查策略文件，变更后重新加载；加载失败保留旧策略
type PolicyReloadService struct {
	path     string
	interval time.Duration
	holder   *PolicyHolder
	mints    *cache.MintCache
	modTime  time.Time
	stopChan chan struct{}
}

func NewPolicyReloadService(path string, interval time.Duration, holder *PolicyHolder, mints *cache.MintCache) *PolicyReloadService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &PolicyReloadService{
		path:     path,
		interval: interval,
		holder:   holder,
		mints:    mints,
		stopChan: make(chan struct{}),
	}
	if fi, err := os.Stat(path); err == nil {
		s.modTime = fi.ModTime()
	}
	return s
}

func (s *PolicyReloadService) Start() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reloadIfChanged()
		case <-s.stopChan:
			return
		}
	}
}

func (s *PolicyReloadService) Stop() {
	close(s.stopChan)
}

// reloadIfChanged 返回是否加载了新策略
func (s *PolicyReloadService) reloadIfChanged() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		logger.Warnf("[PolicyReloadService] stat %s: %v", s.path, err)
		return false
	}
	if !fi.ModTime().After(s.modTime) {
		return false
	}
	p, err := LoadMintPolicy(s.path)
	if err != nil {
		logger.Errorf("[PolicyReloadService] reload failed, keeping previous policy: %v", err)
		return false
	}
	s.modTime = fi.ModTime()
	s.holder.Store(p)
	if s.mints != nil {
		s.mints.UpdateFrom(p.Known())
	}
	logger.Infof("[PolicyReloadService] mint policy reloaded from %s", s.path)
	return true
}
