package config

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/any-hub/piece-cache/internal/piece"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheCapacity < 0 {
		return newFieldError("Global.CacheCapacity", "不能为负数")
	}
	if g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	if len(c.Torrents) == 0 {
		return errors.New("至少需要配置一个 Torrent")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Torrents {
		t := &c.Torrents[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return newFieldError("Torrent[].Name", "不能为空")
		}
		if strings.ContainsAny(t.Name, `/\`) || t.Name == "." || t.Name == ".." {
			return newFieldError(torrentField(t.Name, "Name"), "不允许包含路径")
		}
		if _, exists := seenNames[t.Name]; exists {
			return newFieldError(torrentField(t.Name, "Name"), "重复")
		}
		seenNames[t.Name] = struct{}{}

		if t.PieceLength <= 0 || t.PieceLength%piece.BlockSize != 0 {
			return newFieldError(torrentField(t.Name, "PieceLength"), fmt.Sprintf("必须是 %d 的正整数倍", piece.BlockSize))
		}
		if t.CacheCapacity < 0 {
			return newFieldError(torrentField(t.Name, "CacheCapacity"), "不能为负数")
		}

		if len(t.Files) == 0 {
			return newFieldError(torrentField(t.Name, "File"), "至少需要一个文件")
		}
		seenPaths := map[string]struct{}{}
		for idx := range t.Files {
			f := &t.Files[idx]
			if err := validateFilePath(f.Path); err != nil {
				return fmt.Errorf("%s: %w", fileField(t.Name, idx, "Path"), err)
			}
			f.Path = path.Clean(f.Path)
			if _, exists := seenPaths[f.Path]; exists {
				return newFieldError(fileField(t.Name, idx, "Path"), "重复")
			}
			seenPaths[f.Path] = struct{}{}

			if f.Length < 0 {
				return newFieldError(fileField(t.Name, idx, "Length"), "不能为负数")
			}
		}
		if t.TotalLength() <= 0 {
			return newFieldError(torrentField(t.Name, "File"), "文件总长度必须大于 0")
		}
	}

	return nil
}

func validateFilePath(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("Path 不能为空")
	}
	if strings.Contains(raw, `\`) {
		return errors.New("Path 必须使用 / 分隔")
	}
	if path.IsAbs(raw) {
		return errors.New("Path 必须是相对路径")
	}
	for _, part := range strings.Split(raw, "/") {
		if part == ".." {
			return errors.New("Path 不允许包含 ..")
		}
	}
	return nil
}
