package routes

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/piece-cache/internal/torrent"
	"github.com/any-hub/piece-cache/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/stats 诊断接口，供运维查询各 torrent 的缓存占用与命中率。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *torrent.Registry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version":  version.Full(),
			"torrents": encodeTorrents(registry.List()),
		})
	})

	app.Get("/-/stats/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		manager, ok := registry.Lookup(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "torrent_not_found"})
		}
		return c.JSON(encodeTorrent(manager.Stats()))
	})
}

type torrentPayload struct {
	torrent.Stats
	UsedHuman     string `json:"used_human"`
	CapacityHuman string `json:"capacity_human"`
	SizeHuman     string `json:"size_human"`
}

func encodeTorrents(managers []*torrent.Manager) []torrentPayload {
	if len(managers) == 0 {
		return nil
	}
	result := make([]torrentPayload, 0, len(managers))
	for _, manager := range managers {
		result = append(result, encodeTorrent(manager.Stats()))
	}
	return result
}

func encodeTorrent(stats torrent.Stats) torrentPayload {
	return torrentPayload{
		Stats:         stats,
		UsedHuman:     humanize.IBytes(uint64(stats.Cache.Used)),
		CapacityHuman: humanize.IBytes(uint64(stats.Cache.Capacity)),
		SizeHuman:     humanize.IBytes(uint64(stats.TotalLength)),
	}
}
