package domain

import "errors"

// Error taxonomy shared by the normalization core and the ingestion adapters.
// Callers classify failures with errors.Is.
var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrMissingCRS        = errors.New("missing crs")
	ErrUnsupportedCRS    = errors.New("unsupported crs")
	ErrInvalidFile       = errors.New("invalid file")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrIO                = errors.New("i/o failure")
	ErrRemoteFetch       = errors.New("remote fetch failed")
	ErrEmptyDataset      = errors.New("empty dataset")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidCoordinate, "invalid_coordinate"},
	{ErrMissingCRS, "missing_crs"},
	{ErrUnsupportedCRS, "unsupported_crs"},
	{ErrInvalidFile, "invalid_file"},
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrIO, "io"},
	{ErrRemoteFetch, "remote_fetch"},
	{ErrEmptyDataset, "empty_dataset"},
}

// ErrorKind returns a short label for err suitable for logs and metric
// labels. Errors outside the taxonomy report "unknown"; nil reports "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "unknown"
}
