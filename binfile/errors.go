package binfile

import (
	"errors"
	"fmt"
)

// ErrHeaderChecksum marks a header whose stored checksum does not match its bytes.
var ErrHeaderChecksum = errors.New("header checksum mismatch")

// FormatError reports a missing or malformed header, or a record whose
// content cannot be interpreted.
type FormatError struct {
	Offset int64
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error at byte %d: %s", e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// TruncatedRecordError reports trailing bytes too short for a full record.
type TruncatedRecordError struct {
	Offset int64
	Have   int
	Need   int
}

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("truncated record at byte %d: have %d bytes, need %d", e.Offset, e.Have, e.Need)
}

// UnsupportedVersionError reports a marker/version pair no profile decodes.
type UnsupportedVersionError struct {
	Marker  string
	Version uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported format marker %q version %d", e.Marker, e.Version)
}
