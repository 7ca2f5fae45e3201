package torrent

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/cache"
	"github.com/any-hub/piece-cache/internal/config"
	"github.com/any-hub/piece-cache/internal/logging"
	"github.com/any-hub/piece-cache/internal/piece"
	"github.com/any-hub/piece-cache/internal/storage"
)

// Registry 维护 torrent 名称到 Manager 的映射，启动时构建一次，之后只读并发访问。
type Registry struct {
	managers map[string]*Manager
	ordered  []*Manager
}

// NewRegistry 为每个配置的 torrent 构建磁盘 Writer、内存缓存与 Manager，
// 文件存放在 <StoragePath>/<Name> 下。
func NewRegistry(cfg *config.Config, logger logrus.FieldLogger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	registry := &Registry{
		managers: make(map[string]*Manager, len(cfg.Torrents)),
	}

	for _, t := range cfg.Torrents {
		if _, exists := registry.managers[t.Name]; exists {
			_ = registry.Close()
			return nil, fmt.Errorf("duplicate torrent %s", t.Name)
		}

		manager, err := buildManager(cfg, t, logger)
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("torrent %s: %w", t.Name, err)
		}

		registry.managers[t.Name] = manager
		registry.ordered = append(registry.ordered, manager)
	}

	return registry, nil
}

func buildManager(cfg *config.Config, t config.TorrentConfig, logger logrus.FieldLogger) (*Manager, error) {
	files := make([]*piece.TorrentFile, 0, len(t.Files))
	for _, f := range t.Files {
		files = append(files, &piece.TorrentFile{Path: f.Path, Length: f.Length})
	}

	layout, err := piece.NewLayout(t.PieceLength, files)
	if err != nil {
		return nil, err
	}

	entry := logger.WithField("torrent", t.Name)
	disk, err := storage.NewDiskWriter(
		filepath.Join(cfg.Global.StoragePath, t.Name),
		storage.WithLogger(entry),
	)
	if err != nil {
		return nil, err
	}

	capacity := cfg.EffectiveCacheCapacity(t)
	mem, err := cache.New(disk,
		cache.WithCapacity(capacity.Int()),
		cache.WithLogger(entry),
	)
	if err != nil {
		_ = disk.Dispose()
		return nil, err
	}

	entry.WithFields(logrus.Fields{
		"action":   "open",
		"pieces":   layout.PieceCount(),
		"files":    len(files),
		"capacity": capacity.String(),
		"root":     disk.Root(),
	}).Info("torrent opened")

	return NewManager(t.Name, layout, mem, logger)
}

// Lookup 按名称返回 Manager。
func (r *Registry) Lookup(name string) (*Manager, bool) {
	manager, ok := r.managers[name]
	return manager, ok
}

// List 返回按名称排序的全部 Manager。
func (r *Registry) List() []*Manager {
	result := append([]*Manager(nil), r.ordered...)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Close 关闭全部 Manager 并汇总所有错误。
func (r *Registry) Close() error {
	var errs []error
	for _, manager := range r.ordered {
		if err := manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
