package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrCatalogUnreachable means neither product endpoint form answered on
	// the first page.
	ErrCatalogUnreachable = errors.New("storefront catalog API unreachable")
	// ErrNoProducts means the catalog answered but listed nothing.
	ErrNoProducts = errors.New("storefront catalog API returned no products")
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Status int
	Err    error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server_error %d: %w", e.Status, e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStatus covers any other non-200 status.
type ErrUnexpectedStatus struct {
	Status int
}

func (e ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server_error"
	}
	var status ErrUnexpectedStatus
	if errors.As(err, &status) {
		return "unexpected_status"
	}
	return "other"
}

// retryable reports whether a later attempt might succeed.
func retryable(err error) bool {
	switch errorTypeLabel(err) {
	case "timeout", "connection", "rate_limited":
		return true
	default:
		return false
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 && statusCode != http.StatusOK {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Status: statusCode, Err: wrapped}
		default:
			return ErrUnexpectedStatus{Status: statusCode}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
