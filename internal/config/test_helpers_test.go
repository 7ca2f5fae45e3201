package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sampleTorrent 是最小的合法 torrent 段，供只关注全局字段的用例拼接。
const sampleTorrent = `
[[Torrent]]
Name = "sample"
PieceLength = 16384

  [[Torrent.File]]
  Path = "a.bin"
  Length = 10
`

func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("缺少测试夹具 %s: %v", name, err)
	}
	return path
}

// writeGlobalConfig 写入给定的全局段并追加 sampleTorrent。
func writeGlobalConfig(t *testing.T, global string) string {
	t.Helper()
	return writeTempConfig(t, strings.TrimSpace(global)+"\n"+sampleTorrent)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
