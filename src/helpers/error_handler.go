package helpers

import (
	"context"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type PipelineError struct {
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Distinct error types for the pipeline's error taxonomy:
// configuration errors fail fast at startup, broker errors surface to the
// orchestrator, serialization errors mark poison messages, provider errors
// are retried in-cycle, storage errors keep the write buffer intact.
type ConfigurationError struct{ PipelineError }
type BrokerError struct{ PipelineError }
type SerializationError struct{ PipelineError }
type ProviderError struct{ PipelineError }
type StorageError struct{ PipelineError }

// -----------------------------------------------------------------------------

func NewBrokerError(message string, cause error) *BrokerError {
	return &BrokerError{PipelineError{Message: message, Cause: cause}}
}

func NewSerializationError(message string, cause error) *SerializationError {
	return &SerializationError{PipelineError{Message: message, Cause: cause}}
}

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{PipelineError{Message: message, Cause: cause}}
}

func NewProviderError(message string, cause error) *ProviderError {
	return &ProviderError{PipelineError{Message: message, Cause: cause}}
}

func NewStorageError(message string, cause error) *StorageError {
	return &StorageError{PipelineError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts fn up to maxRetries times with exponential backoff.
// The backoff wait is cancellable: a cancelled ctx aborts immediately with the
// context error so shutdown is never delayed by a pending wait.
func RetryWithBackoff(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries, lastErr)
}
