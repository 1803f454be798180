package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// JSON type for JSONB columns
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSON: not a byte slice")
	}
	return json.Unmarshal(bytes, j)
}

// JSONArray type for JSONB array columns
type JSONArray []interface{}

func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONArray: not a byte slice")
	}
	return json.Unmarshal(bytes, j)
}

// StringArray type for text[] columns
type StringArray = pq.StringArray

// Execution status constants
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusSuccess   = "success"
	ExecutionStatusError     = "error"
	ExecutionStatusCancelled = "cancelled"
)

// Node execution status constants
const (
	NodeStatusQueued    = "queued"
	NodeStatusRunning   = "running"
	NodeStatusSuccess   = "success"
	NodeStatusError     = "error"
	NodeStatusCancelled = "cancelled"
	NodeStatusSkipped   = "skipped"
)

// Credential share permission levels
const (
	SharePermissionUse  = "use"
	SharePermissionView = "view"
	SharePermissionEdit = "edit"
)
