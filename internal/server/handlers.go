package server

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/logging"
	"github.com/any-hub/piece-cache/internal/torrent"
)

type handlers struct {
	logger *logrus.Logger
}

type movePayload struct {
	Path           string `json:"path"`
	IgnoreExisting bool   `json:"ignore_existing"`
}

func (h *handlers) writeBlock(c fiber.Ctx) error {
	manager, pieceIndex, blockIndex, err := h.blockTarget(c)
	if err != nil {
		return h.fail(c, "write_block", err)
	}

	if err := manager.WriteBlock(pieceIndex, blockIndex, c.Body()); err != nil {
		return h.fail(c, "write_block", err)
	}

	h.logger.WithFields(logging.RequestFields(RequestID(c), manager.Name(), pieceIndex, blockIndex, false)).
		WithField("action", "write_block").
		Debug("block buffered")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) readBlock(c fiber.Ctx) error {
	manager, pieceIndex, blockIndex, err := h.blockTarget(c)
	if err != nil {
		return h.fail(c, "read_block", err)
	}

	result, err := manager.ReadBlock(pieceIndex, blockIndex)
	if err != nil {
		return h.fail(c, "read_block", err)
	}

	h.logger.WithFields(logging.RequestFields(RequestID(c), manager.Name(), pieceIndex, blockIndex, result.Cached)).
		WithFields(logrus.Fields{"action": "read_block", "bytes": len(result.Data)}).
		Debug("block read")

	c.Set("X-Cache-Hit", fmt.Sprintf("%t", result.Cached))
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(result.Data)
}

func (h *handlers) flushAll(c fiber.Ctx) error {
	manager, ok := getManagerFromContext(c)
	if !ok {
		return fiber.ErrNotFound
	}
	if err := manager.Flush(); err != nil {
		return h.fail(c, "flush", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) flushFile(c fiber.Ctx) error {
	return h.fileAction(c, "flush_file", func(manager *torrent.Manager, index int) error {
		return manager.FlushFile(index)
	})
}

func (h *handlers) closeFile(c fiber.Ctx) error {
	return h.fileAction(c, "close_file", func(manager *torrent.Manager, index int) error {
		return manager.CloseFile(index)
	})
}

func (h *handlers) fileExists(c fiber.Ctx) error {
	manager, index, err := h.fileTarget(c)
	if err != nil {
		return h.fail(c, "file_exists", err)
	}
	exists, err := manager.FileExists(index)
	if err != nil {
		return h.fail(c, "file_exists", err)
	}
	return c.JSON(fiber.Map{"exists": exists})
}

func (h *handlers) moveFile(c fiber.Ctx) error {
	manager, index, err := h.fileTarget(c)
	if err != nil {
		return h.fail(c, "move_file", err)
	}

	var payload movePayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return h.fail(c, "move_file", fmt.Errorf("%w: %v", errInvalidBody, err))
	}

	if err := manager.MoveFile(index, payload.Path, payload.IgnoreExisting); err != nil {
		return h.fail(c, "move_file", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) fileAction(c fiber.Ctx, action string, fn func(*torrent.Manager, int) error) error {
	manager, index, err := h.fileTarget(c)
	if err != nil {
		return h.fail(c, action, err)
	}
	if err := fn(manager, index); err != nil {
		return h.fail(c, action, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) blockTarget(c fiber.Ctx) (*torrent.Manager, int, int, error) {
	manager, ok := getManagerFromContext(c)
	if !ok {
		return nil, 0, 0, fiber.ErrNotFound
	}
	pieceIndex, err := indexParam(c, "piece")
	if err != nil {
		return nil, 0, 0, err
	}
	blockIndex, err := indexParam(c, "block")
	if err != nil {
		return nil, 0, 0, err
	}
	return manager, pieceIndex, blockIndex, nil
}

func (h *handlers) fileTarget(c fiber.Ctx) (*torrent.Manager, int, error) {
	manager, ok := getManagerFromContext(c)
	if !ok {
		return nil, 0, fiber.ErrNotFound
	}
	index, err := indexParam(c, "file")
	if err != nil {
		return nil, 0, err
	}
	return manager, index, nil
}

// fail 记录失败请求并渲染 {"error": code}。
func (h *handlers) fail(c fiber.Ctx, action string, err error) error {
	status, code := classifyError(err)

	fields := logrus.Fields{
		"action":     action,
		"request_id": RequestID(c),
		"path":       c.Path(),
		"status":     status,
		"error":      err.Error(),
	}
	if manager, ok := getManagerFromContext(c); ok {
		fields["torrent"] = manager.Name()
	}

	entry := h.logger.WithFields(fields)
	if status >= fiber.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}

	return c.Status(status).JSON(fiber.Map{"error": code})
}
