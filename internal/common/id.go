package common

import (
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a unique, time-sortable run ID
// Format: <yyyymmdd-hhmmss>-<first 8 chars of a uuid>
func NewRunID() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.New().String()[:8]
}
