// Package logging configures the process-wide zerolog logger.
//
// Maps to: erauner12-toolbridge-api cmd/server/main.go logger setup.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures zerolog.TimeFieldFormat and the base service logger. In
// "dev" env it switches to a human-readable console writer; otherwise it
// emits structured JSON suitable for log aggregation.
func Init(service, env string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", service).Logger()

	if env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

// ForTask returns a child logger carrying the task's identifying fields.
func ForTask(workspaceID, taskID string) zerolog.Logger {
	return log.With().Str("workspace_id", workspaceID).Str("task_id", taskID).Logger()
}

// ForCall returns a child logger carrying a tool call's identifying fields.
func ForCall(workspaceID, taskID, callID, toolPath string) zerolog.Logger {
	return log.With().
		Str("workspace_id", workspaceID).
		Str("task_id", taskID).
		Str("call_id", callID).
		Str("tool_path", toolPath).
		Logger()
}
