package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

type ErrorCode string

const (
	ErrNotFound    ErrorCode = "not_found"
	ErrValidation  ErrorCode = "validation"
	ErrUnavailable ErrorCode = "unavailable"
	ErrInternal    ErrorCode = "internal"
)

// ToolError is the JSON body of a failed tool result. Agents branch on Code.
type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e ToolError) Error() string { return string(e.Code) + ": " + e.Message }

func (e ToolError) ToResult() *mcp.CallToolResult {
	data, _ := json.Marshal(e)
	return mcp.NewToolResultError(string(data))
}

// NotFound reports that no resource exists under key=value.
func NotFound(resource, key, value string) *mcp.CallToolResult {
	return ToolError{
		Code:    ErrNotFound,
		Message: resource + " not found",
		Details: map[string]any{key: value},
	}.ToResult()
}

func ValidationError(msg string) *mcp.CallToolResult {
	return ToolError{Code: ErrValidation, Message: msg}.ToResult()
}

// Unavailable reports a feature that is currently switched off or not
// connected, as opposed to missing data.
func Unavailable(msg string, details map[string]any) *mcp.CallToolResult {
	return ToolError{Code: ErrUnavailable, Message: msg, Details: details}.ToResult()
}

func InternalError(err error) *mcp.CallToolResult {
	return ToolError{Code: ErrInternal, Message: err.Error()}.ToResult()
}
