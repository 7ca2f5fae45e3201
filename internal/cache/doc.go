// Package cache 实现块读写的内存回写层。MemoryWriter 包装另一个 piece.Writer，
// 将写入的块暂存在内存中，仅在容量不足、显式刷盘、文件关闭或 Dispose 时交给
// 被包装的 Writer；读取时优先查缓冲块，保证未落盘的数据可见。
//
// MemoryWriter 内部不加锁，多个 goroutine 共享同一实例时需由调用方串行化
// （参见 torrent.Manager）。
package cache
