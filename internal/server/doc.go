// Package server 提供对外暴露 torrent 块读写的 Fiber HTTP 服务。
// 每个请求都会获得 X-Request-ID；块、刷盘与文件相关路由按名称从
// torrent.Registry 查找 Manager，由 Manager 串行访问回写缓存。
// 诊断接口位于 /-/ 前缀下，由 routes 子包注册。
package server
