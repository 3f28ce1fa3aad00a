package phala

import (
	"fmt"
	"strings"
	"time"
)

// CVM is a snapshot of one confidential VM as reported by the cloud API.
// Status transitions are observed through polling, never asserted locally.
type CVM struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	AppID       string `json:"app_id"`
	ComposeHash string `json:"compose_hash"`
}

// ProvisionResult holds the identifiers returned by the provision call,
// both required to create the actual CVM.
type ProvisionResult struct {
	AppID       string `json:"app_id"`
	ComposeHash string `json:"compose_hash"`
}

// APIError is any non-success response from the cloud API. Body carries the
// decoded detail when the response was structured, raw text otherwise.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("phala API error %d: %s", e.StatusCode, e.Body)
}

// TerminalStateError reports a CVM that reached a terminal failure status
// before ever running. It embeds the last observed snapshot.
type TerminalStateError struct {
	CVM CVM
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("CVM %d entered terminal state %q before running (app %s)",
		e.CVM.ID, e.CVM.Status, e.CVM.AppID)
}

// TimeoutError reports that a CVM did not reach running before the deadline.
type TimeoutError struct {
	CVMID  int64
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for CVM %d to start (waited %s); check the Phala Cloud dashboard",
		e.CVMID, e.Waited)
}

// isTerminalFailure reports statuses from which the CVM will never run.
func isTerminalFailure(status string) bool {
	switch strings.ToLower(status) {
	case "error", "failed", "terminated":
		return true
	}
	return false
}

// isTerminalState reports statuses from which no further progress occurs,
// including a clean exit.
func isTerminalState(status string) bool {
	switch strings.ToLower(status) {
	case "stopped", "error", "failed", "terminated", "exited":
		return true
	}
	return false
}
