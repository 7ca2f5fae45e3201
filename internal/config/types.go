package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节数，支持 "2MiB"、"512 KB" 等可读写法以及纯整数字节。
type ByteSize int64

// UnmarshalText 使用 go-humanize 解析可读的容量写法。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int 返回 int 形式的字节数，供缓存构造函数使用。
func (b ByteSize) Int() int {
	return int(b)
}

func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.HasPrefix(raw, "-") {
		if intVal, err := parseInt(raw); err == nil {
			return ByteSize(intVal), nil
		}
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Torrent 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	CacheCapacity   ByteSize `mapstructure:"CacheCapacity"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// FileConfig 描述 torrent 中的单个文件，Path 相对于该 torrent 的存储目录。
type FileConfig struct {
	Path   string `mapstructure:"Path"`
	Length int64  `mapstructure:"Length"`
}

// TorrentConfig 决定单个 torrent 的分片布局与缓存预算。
type TorrentConfig struct {
	Name          string       `mapstructure:"Name"`
	PieceLength   int          `mapstructure:"PieceLength"`
	CacheCapacity ByteSize     `mapstructure:"CacheCapacity"`
	Files         []FileConfig `mapstructure:"File"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Torrents []TorrentConfig `mapstructure:"Torrent"`
}

// TotalLength 返回 torrent 所有文件长度之和。
func (t TorrentConfig) TotalLength() int64 {
	var total int64
	for _, f := range t.Files {
		total += f.Length
	}
	return total
}

// EffectiveCacheCapacity 返回特定 Torrent 生效的缓存容量，未覆盖时回退至全局值。
func (c *Config) EffectiveCacheCapacity(t TorrentConfig) ByteSize {
	if t.CacheCapacity > 0 {
		return t.CacheCapacity
	}
	return c.Global.CacheCapacity
}

// TorrentNames 返回所有 torrent 名称，供日志字段使用。
func TorrentNames(torrents []TorrentConfig) []string {
	if len(torrents) == 0 {
		return nil
	}
	result := make([]string, len(torrents))
	for i, t := range torrents {
		result[i] = t.Name
	}
	return result
}
