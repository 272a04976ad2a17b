// Package mcpapi exposes IndexingService as a set of MCP tools (spec.md
// §6: the CLI/LSP/agent surface is out of core scope, defined here only to
// pin down what the core accepts as input). Tool handlers are intentionally
// thin: decode input, call into internal/indexing.Service, encode output.
package mcpapi

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/amanindex/coreengine/internal/errors"
)

// Standard JSON-RPC and AmanMCP-specific MCP error codes.
const (
	ErrCodeIndexNotFound = -32001
	ErrCodeTimeout       = -32003

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors tool handlers return for input validation failures.
var (
	ErrQueryEmpty   = errors.New("query is empty")
	ErrQueryTooLong = errors.New("query exceeds maximum length")
	ErrRepoIDEmpty  = errors.New("repo_id is required")
)

// MaxQueryLength bounds the search tool's query parameter.
const MaxQueryLength = 4096

// MCPError is the JSON-RPC error shape returned to an MCP client.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// mapError converts an internal error into an MCPError, preferring the
// structured AmanError category when present.
func mapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var amanErr *amerrors.AmanError
	if errors.As(err, &amanErr) {
		return mapAmanError(amanErr)
	}

	switch {
	case errors.Is(err, ErrQueryEmpty), errors.Is(err, ErrQueryTooLong), errors.Is(err, ErrRepoIDEmpty):
		return newInvalidParamsError(err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

func mapAmanError(ae *amerrors.AmanError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}
	switch ae.Category {
	case amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case amerrors.CategoryIO:
		if ae.Code == amerrors.ErrCodeCorruptIndex {
			return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	case amerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
