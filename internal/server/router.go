package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/torrent"
)

// AppOptions 描述 Fiber 应用在指定端口上的依赖与行为。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *torrent.Registry
	ListenPort int
}

const (
	contextKeyManager   = "_piececache_manager"
	contextKeyRequestID = "_piececache_request_id"
)

// NewApp 构建带请求 ID、torrent 查找与结构化错误输出的 Fiber 应用。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("torrent registry is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     1 << 20,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &handlers{logger: opts.Logger}
	lookup := torrentLookupMiddleware(opts)
	group := app.Group("/torrents/:name")
	group.Put("/pieces/:piece/blocks/:block", lookup, h.writeBlock)
	group.Get("/pieces/:piece/blocks/:block", lookup, h.readBlock)
	group.Post("/flush", lookup, h.flushAll)
	group.Post("/files/:file/flush", lookup, h.flushFile)
	group.Post("/files/:file/close", lookup, h.closeFile)
	group.Get("/files/:file/exists", lookup, h.fileExists)
	group.Post("/files/:file/move", lookup, h.moveFile)

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// torrentLookupMiddleware 按路径中的 torrent 名称查找 Manager，未注册时直接返回 404。
func torrentLookupMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		manager, ok := opts.Registry.Lookup(name)
		if !ok {
			return renderTorrentUnknown(c, opts.Logger, name)
		}
		// fasthttp 在请求结束时会关闭 Locals 中实现 io.Closer 的值，Manager 需包一层。
		c.Locals(contextKeyManager, torrentRoute{manager: manager})
		return c.Next()
	}
}

func renderTorrentUnknown(c fiber.Ctx, logger *logrus.Logger, name string) error {
	logger.WithFields(logrus.Fields{
		"action":     "torrent_lookup",
		"torrent":    name,
		"request_id": RequestID(c),
	}).Warn("torrent unknown")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "torrent_not_found",
	})
}

// torrentRoute 是存入请求上下文的路由结果，不暴露 Close 方法。
type torrentRoute struct {
	manager *torrent.Manager
}

func getManagerFromContext(c fiber.Ctx) (*torrent.Manager, bool) {
	if value := c.Locals(contextKeyManager); value != nil {
		if route, ok := value.(torrentRoute); ok && route.manager != nil {
			return route.manager, true
		}
	}
	return nil, false
}

// RequestID 返回中间件写入上下文的请求 ID。
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// indexParam 解析非负整数路径参数。
func indexParam(c fiber.Ctx, key string) (int, error) {
	raw := c.Params(key)
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s=%q", errInvalidIndex, key, raw)
	}
	return value, nil
}
