package handlers

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/jacoelt/backrecorder/internal/capture"
	"github.com/jacoelt/backrecorder/internal/cloud"
	"github.com/jacoelt/backrecorder/internal/types"
)

// StatusHandler pushes recorder status over a WebSocket so the UI can show
// how much audio is currently recoverable.
type StatusHandler struct {
	recorder     *capture.Recorder
	cloudManager *cloud.Manager
	bitRate      int
	segmentSecs  int
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(recorder *capture.Recorder, cloudManager *cloud.Manager, bitRate, segmentSecs int) *StatusHandler {
	return &StatusHandler{
		recorder:     recorder,
		cloudManager: cloudManager,
		bitRate:      bitRate,
		segmentSecs:  segmentSecs,
	}
}

type statusMessage struct {
	Recording        bool   `json:"recording"`
	RetainedSegments int    `json:"retained_segments"`
	RetainedSeconds  int    `json:"retained_seconds"`
	EstimatedBytes   int64  `json:"estimated_bytes"`
	CloudState       string `json:"cloud_state"`
}

// Handle streams status updates until the client disconnects.
func (h *StatusHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	log.Printf("Status WebSocket connection established")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Disconnect detection: reads only, messages are ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := c.WriteMessage(websocket.TextMessage, h.snapshot()); err != nil {
				log.Printf("Status WebSocket write error: %v", err)
				return
			}
		}
	}
}

func (h *StatusHandler) snapshot() []byte {
	retained := h.recorder.RetainedCount()
	retainedSecs := retained * h.segmentSecs
	msg := statusMessage{
		Recording:        h.recorder.IsRecording(),
		RetainedSegments: retained,
		RetainedSeconds:  retainedSecs,
		EstimatedBytes:   types.EstimateRetainedBytes(h.bitRate, retainedSecs),
		CloudState:       h.cloudManager.State(),
	}
	b, _ := json.Marshal(msg)
	return b
}
