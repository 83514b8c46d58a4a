package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not go away by retrying the
// next batch (authentication, billing, quota). Jobs stop on them.
var ErrFatalAPI = errors.New("fatal provider API error")

// ErrNotLoaded is returned by Transform before a successful Load.
var ErrNotLoaded = errors.New("provider not loaded")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal errors with ErrFatalAPI and returns others unchanged.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
