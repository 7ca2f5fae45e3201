// Package storage 提供基于磁盘的 piece.Writer。每个 torrent 文件位于
// <root>/<TorrentFile.Path>；块按文件内偏移写入，跨文件时拆分。
// 打开的句柄按路径缓存，直到文件关闭或 Writer 释放。
package storage
