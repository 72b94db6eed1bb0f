package media

import "errors"

// Fault classes surfaced by the segmentation core. Callers classify wrapped
// errors with errors.Is.
var (
	ErrNilPointer             = errors.New("nil pointer")
	ErrDataSize               = errors.New("invalid data size")
	ErrInvalidHeader          = errors.New("invalid or missing header NALU")
	ErrInvalidSPS             = errors.New("invalid or missing SPS")
	ErrInvalidPPS             = errors.New("invalid or missing PPS")
	ErrInvalidProjectionType  = errors.New("invalid projection type")
	ErrStreamNotFound         = errors.New("stream not found")
	ErrExtractorTrackNotFound = errors.New("extractor track not found")
	ErrInvalidData            = errors.New("invalid data")
	ErrCreateThread           = errors.New("failed to create worker")
	ErrParserInit             = errors.New("bitstream parser init failed")
	ErrUndefinedOperation     = errors.New("undefined operation")
)
