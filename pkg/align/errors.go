package align

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is matched by every error caused by unusable input.
	ErrInvalidInput = errors.New("invalid alignment input")

	// ErrEmptyTranscript is returned when there are no words to align.
	ErrEmptyTranscript = fmt.Errorf("%w: empty transcript", ErrInvalidInput)

	// ErrEmptyEmission is returned when the emission matrix has no frames or symbols.
	ErrEmptyEmission = fmt.Errorf("%w: empty emission matrix", ErrInvalidInput)

	// ErrMalformedEmission is returned when the matrix data does not match its shape.
	ErrMalformedEmission = fmt.Errorf("%w: malformed emission matrix", ErrInvalidInput)

	// ErrNoAlignableTokens is returned when no transcript character is in the vocabulary.
	ErrNoAlignableTokens = fmt.Errorf("%w: transcript has no characters in the vocabulary", ErrInvalidInput)

	// ErrSymbolOutOfRange is returned when the vocabulary does not fit the emission matrix.
	ErrSymbolOutOfRange = fmt.Errorf("%w: vocabulary symbol outside emission matrix", ErrInvalidInput)

	// ErrInvalidAudio is returned for a non-positive sample count or sample rate.
	ErrInvalidAudio = fmt.Errorf("%w: invalid audio length", ErrInvalidInput)

	// ErrTrellisTooLarge is returned when frames x tokens exceeds the configured ceiling.
	ErrTrellisTooLarge = fmt.Errorf("%w: trellis exceeds size limit", ErrInvalidInput)
)

// IsInputError reports whether err was caused by unusable input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
