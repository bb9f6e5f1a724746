// Package apperr holds sentinel errors shared by the preview server and MCP tools.
package apperr

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrBuildFailed = errors.New("build failed")
)
