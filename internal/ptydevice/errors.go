package ptydevice

import "errors"

var (
	errClosed      = errors.New("ptydevice: device closed")
	errInvalidSize = errors.New("ptydevice: invalid size")
	errUnsupported = errors.New("ptydevice: operation not supported by this backend")
)
