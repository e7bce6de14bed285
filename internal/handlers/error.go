// Package handlers provides HTTP API handlers for the login bridge server.
package handlers

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}
