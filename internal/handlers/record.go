package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jacoelt/backrecorder/internal/capture"
	"github.com/jacoelt/backrecorder/internal/types"
)

// RecordHandler starts and stops the recording session.
type RecordHandler struct {
	recorder    *capture.Recorder
	defaultMax  int
	segmentSecs int
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(recorder *capture.Recorder, defaultMaxMinutes, segmentSecs int) *RecordHandler {
	if defaultMaxMinutes < 1 {
		defaultMaxMinutes = types.DefaultMaxMinutes
	}
	if segmentSecs < 1 {
		segmentSecs = types.DefaultSegmentSecs
	}
	return &RecordHandler{
		recorder:    recorder,
		defaultMax:  defaultMaxMinutes,
		segmentSecs: segmentSecs,
	}
}

// StartRequest represents the request body
type StartRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// HandleStart begins a recording session.
func (h *RecordHandler) HandleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  "ERR_INVALID_BODY",
			})
		}
	}

	minutes := req.DurationMinutes
	if minutes <= 0 {
		minutes = h.defaultMax
	}

	// The retention window is a duration; capacity is that duration
	// expressed in segments of the configured rotation interval.
	maxSegments := minutes * 60 / h.segmentSecs
	if maxSegments < 1 {
		maxSegments = 1
	}

	if err := h.recorder.Start(maxSegments); err != nil {
		if errors.Is(err, capture.ErrAlreadyRecording) {
			return c.Status(409).JSON(fiber.Map{
				"error": "Recording already in progress",
				"code":  "ERR_ALREADY_RECORDING",
			})
		}
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			return c.Status(503).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "ERR_DEVICE_UNAVAILABLE",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_START_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"status":           "recording",
		"duration_minutes": minutes,
		"max_segments":     maxSegments,
	})
}

// HandleStop ends the recording session and discards retained segments.
func (h *RecordHandler) HandleStop(c *fiber.Ctx) error {
	h.recorder.Stop()
	return c.JSON(fiber.Map{
		"status": "stopped",
	})
}
