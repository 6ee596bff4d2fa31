package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ObjectStorage stages datasets and serves source documents addressed as
// s3://bucket/key.
type ObjectStorage interface {
	// Upload stores reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens the object at key. Callers close the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns a URL a remote service can fetch the object from.
	GetURL(ctx context.Context, key string) (string, error)

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)
}

// ObjectRef is a parsed s3:// reference.
type ObjectRef struct {
	Bucket string
	Key    string
}

// ParseObjectURL parses "s3://bucket/key". ok is false for any other scheme.
func ParseObjectURL(raw string) (ObjectRef, bool, error) {
	rest, found := strings.CutPrefix(raw, "s3://")
	if !found {
		return ObjectRef{}, false, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return ObjectRef{}, true, fmt.Errorf("invalid object url %q: expected s3://bucket/key", raw)
	}
	return ObjectRef{Bucket: bucket, Key: key}, true, nil
}

// JoinKey prefixes key with prefix using "/" separators.
func JoinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
