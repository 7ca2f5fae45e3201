package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/piece-cache/internal/piece"
	"github.com/any-hub/piece-cache/internal/storage"
	"github.com/any-hub/piece-cache/internal/torrent"
)

var (
	errInvalidIndex = errors.New("invalid index")
	errInvalidBody  = errors.New("invalid request body")
)

// errorMapping 将领域错误映射为 HTTP 状态码与稳定的错误码。
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{errInvalidIndex, fiber.StatusBadRequest, "invalid_index"},
	{errInvalidBody, fiber.StatusBadRequest, "invalid_body"},
	{piece.ErrBlockOutOfRange, fiber.StatusBadRequest, "block_out_of_range"},
	{torrent.ErrBlockLength, fiber.StatusBadRequest, "block_length_mismatch"},
	{torrent.ErrInvalidPath, fiber.StatusBadRequest, "invalid_path"},
	{storage.ErrInvalidPath, fiber.StatusBadRequest, "invalid_path"},
	{torrent.ErrFileNotFound, fiber.StatusNotFound, "file_not_found"},
	{storage.ErrDestinationExists, fiber.StatusConflict, "destination_exists"},
	{torrent.ErrPathInUse, fiber.StatusConflict, "path_in_use"},
	{torrent.ErrClosed, fiber.StatusServiceUnavailable, "torrent_closed"},
}

func classifyError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return fiber.StatusInternalServerError, "internal_error"
}
