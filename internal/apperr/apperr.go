// Package apperr holds the error taxonomy shared by the classification
// pipeline and the mapping from those errors to what a user gets to see.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Category groups errors by how the boundary should react to them.
type Category string

const (
	CategoryResource      Category = "resource-missing"
	CategoryModel         Category = "model-unavailable"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryCancellation  Category = "cancellation"
	CategoryGeneric       Category = "generic"
)

var (
	// ErrResourceMissing means a packaged resource (the label file) could not be opened.
	ErrResourceMissing = errors.New("packaged resource missing")
	// ErrModelUnavailable means the classification model could not be instantiated.
	ErrModelUnavailable = errors.New("classification model unavailable")
	// ErrNoImageAcquired means classification was triggered before any image was acquired.
	ErrNoImageAcquired = errors.New("no image acquired")
	// ErrLabelIndexOutOfRange means the selected score index has no label.
	ErrLabelIndexOutOfRange = errors.New("label index out of range")
	// ErrLabelMismatch means the model output length differs from the label count.
	ErrLabelMismatch = errors.New("model output does not match label set")
	// ErrUnsupportedImage means acquired content is not a decodable image.
	ErrUnsupportedImage = errors.New("unsupported image content")
	// ErrUnknownSession is returned for session ids that do not exist or expired.
	ErrUnknownSession = errors.New("unknown session")
)

// Info describes how an error surfaces at the pipeline boundary.
type Info struct {
	Category  Category
	Status    int
	Message   string
	Retryable bool
	Fatal     bool
}

// Classify maps err onto the user-visible taxonomy. Unknown errors are
// reported as generic internal faults.
func Classify(err error) Info {
	switch {
	case err == nil:
		return Info{Category: CategoryGeneric, Status: http.StatusOK}
	case errors.Is(err, ErrNoImageAcquired):
		return Info{
			Category: CategoryValidation,
			Status:   http.StatusUnprocessableEntity,
			Message:  "Select or capture an image before classifying.",
		}
	case errors.Is(err, ErrUnsupportedImage):
		return Info{
			Category: CategoryValidation,
			Status:   http.StatusBadRequest,
			Message:  "Invalid image format. Supported: JPEG, PNG, GIF, WebP, BMP",
		}
	case errors.Is(err, ErrUnknownSession):
		return Info{
			Category: CategoryValidation,
			Status:   http.StatusNotFound,
			Message:  "Session not found or expired.",
		}
	case errors.Is(err, ErrModelUnavailable):
		return Info{
			Category:  CategoryModel,
			Status:    http.StatusServiceUnavailable,
			Message:   "The classification model is unavailable, please try again.",
			Retryable: true,
		}
	case errors.Is(err, ErrResourceMissing):
		return Info{
			Category: CategoryResource,
			Status:   http.StatusInternalServerError,
			Message:  "A packaged resource is missing.",
			Fatal:    true,
		}
	case errors.Is(err, ErrLabelIndexOutOfRange), errors.Is(err, ErrLabelMismatch):
		return Info{
			Category: CategoryConfiguration,
			Status:   http.StatusInternalServerError,
			Message:  "The model and label set do not match.",
			Fatal:    true,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Info{
			Category:  CategoryCancellation,
			Status:    http.StatusRequestTimeout,
			Message:   "The request was cancelled.",
			Retryable: true,
		}
	default:
		return Info{
			Category: CategoryGeneric,
			Status:   http.StatusInternalServerError,
			Message:  "Internal error.",
		}
	}
}
