// Package torrent 管理每个 torrent 的块读写链。Manager 独占一条写入链
// （内存缓存叠加磁盘），并串行化所有调用；Registry 为每个配置的 torrent 构建一个 Manager。
package torrent
