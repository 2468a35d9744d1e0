package model

import (
	"errors"
)

var (
	ErrDomainRequired = errors.New("domain required")
	ErrNoSession      = errors.New("no active session")
	ErrPipelineClosed = errors.New("pipeline closed")
)
