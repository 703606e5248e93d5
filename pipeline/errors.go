package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Error messages reported in Result.Error.
const (
	ErrMsgExtraction     = "could not extract features"
	ErrMsgCatalogChanged = "catalog reloaded during matching"
)

var errCatalogReloaded = errors.New(ErrMsgCatalogChanged)

// TimeoutError reports a frame that did not finish within the frame timeout. The next
// frame is unaffected.
type TimeoutError struct {
	Stage   Stage
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("frame timed out after %v while %s", e.Timeout, e.Stage)
}

// Unwrap returns context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
