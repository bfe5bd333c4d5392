package service

import "errors"

// ErrValidation marks a request rejected before any side effect
var ErrValidation = errors.New("validation error")
