package capability

import "errors"

var (
	ErrInvalidValidityPeriod = errors.New("capability: invalid validity period")
	ErrInvalidInput          = errors.New("capability: invalid input")
)
