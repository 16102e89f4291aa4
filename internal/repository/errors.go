package repository

import "errors"

var (
	ErrNotFound           = errors.New("entity not found")
	ErrSurfaceUnavailable = errors.New("storage surface unavailable")
	ErrUnknownDataset     = errors.New("unknown dataset")
	ErrDeleteBlocked      = errors.New("delete blocked by a concurrent operation")
	ErrCallerRequired     = errors.New("authenticated caller required")
)
