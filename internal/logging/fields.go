package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// BlockFields 提供 torrent/piece/block 定位字段，供块读写日志复用。
func BlockFields(torrent string, pieceIndex, blockIndex int) logrus.Fields {
	return logrus.Fields{
		"torrent": torrent,
		"piece":   pieceIndex,
		"block":   blockIndex,
	}
}

// RequestFields 在块字段基础上附加请求 ID 与缓存命中状态。
func RequestFields(requestID, torrent string, pieceIndex, blockIndex int, cacheHit bool) logrus.Fields {
	fields := BlockFields(torrent, pieceIndex, blockIndex)
	fields["request_id"] = requestID
	fields["cache_hit"] = cacheHit
	return fields
}
