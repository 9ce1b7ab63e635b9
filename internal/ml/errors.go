package ml

import (
	"errors"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

var (
	// ErrInvalidInput is returned on wrong feature arity or out-of-range arguments
	ErrInvalidInput = models.ErrInvalidInput

	// ErrUnrecognizedCondition is returned by ValidateCondition for unknown storage names
	ErrUnrecognizedCondition = errors.New("unrecognized storage condition")

	// ErrNotTrained is returned when persisting a model that has not been fitted
	ErrNotTrained = errors.New("model not trained")
)
