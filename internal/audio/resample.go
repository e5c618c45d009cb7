package audio

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRate   = errors.New("invalid sample rate")
	ErrResamplerInit = errors.New("resampler initialization failed")
)

func checkRates(inputRate, targetRate int) error {
	if targetRate <= 0 {
		return fmt.Errorf("%w: target rate %d", ErrInvalidRate, targetRate)
	}
	if inputRate <= 0 {
		return fmt.Errorf("%w: input rate %d", ErrInvalidRate, inputRate)
	}
	return nil
}
