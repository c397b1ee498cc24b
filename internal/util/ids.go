// Package util holds identifier and environment helpers used across AskFlow.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// JobIDPrefix marks durable job identifiers.
const JobIDPrefix = "job_"

// GenerateJobID returns JobIDPrefix followed by 32 lowercase hex characters.
func GenerateJobID() string {
	return JobIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewSessionID returns a fresh UUID identifying one flow run.
func NewSessionID() string {
	return uuid.NewString()
}
