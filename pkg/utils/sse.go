package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// SendSSEChunk 发送Server-Sent Events数据块
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal sse payload")
		return
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		log.Debug().Err(err).Msg("failed to write sse prefix")
		return
	}
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("failed to write sse payload")
		return
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		log.Debug().Err(err).Msg("failed to write sse terminator")
		return
	}
	flusher.Flush()
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}
