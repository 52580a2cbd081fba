package utils

import (
	"fmt"
	"io"
)

const (
	// MaxConfigFileSize is the maximum size for configuration files (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024

	// MaxResponseBodySize is the maximum size accepted from an AdGuard Home
	// control endpoint (4MB, stats payloads with top lists stay well below)
	MaxResponseBodySize = 4 * 1024 * 1024

	// MaxStoreDocumentSize is the maximum size of a file-backed store document (8MB)
	MaxStoreDocumentSize = 8 * 1024 * 1024

	// MaxMessageBodySize is the maximum size of a control API request body (64KB)
	MaxMessageBodySize = 64 * 1024
)

// LimitedReader returns a reader that limits the amount of data read
func LimitedReader(r io.Reader, limit int64) io.Reader {
	return &io.LimitedReader{R: r, N: limit}
}

// ReadAllLimited reads all data from r up to limit bytes
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	limited := LimitedReader(r, limit+1) // +1 to detect if limit exceeded
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("data exceeds maximum size of %d bytes", limit)
	}

	return data, nil
}
