package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/storage"
)

const defaultMaxDocumentBytes = 32 << 20

// objectDownloader is implemented by stores that can read buckets other
// than their default one.
type objectDownloader interface {
	DownloadFrom(ctx context.Context, ref storage.ObjectRef) (io.ReadCloser, error)
}

// Loader resolves a record's body. It understands http(s) URLs, s3://
// objects, inline content, and file:// or bare paths inside localRoots.
type Loader struct {
	client     *resty.Client
	store      storage.ObjectStorage
	localRoots []string
	maxBytes   int64
}

// NewLoader creates a Loader. store may be nil when object storage is
// disabled; s3:// URLs then fail. Local files are only read below one of
// localRoots, and never when none is given.
func NewLoader(store storage.ObjectStorage, localRoots ...string) *Loader {
	return &Loader{
		client: resty.New().
			SetTimeout(60 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		store:      store,
		localRoots: localRoots,
		maxBytes:   defaultMaxDocumentBytes,
	}
}

// CheckURL rejects urls the loader would refuse to read: unknown schemes,
// and local paths outside localRoots.
func CheckURL(url string, localRoots []string) error {
	if isRemote(url) {
		return nil
	}
	_, _, err := localTarget(url, localRoots)
	return err
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "s3://")
}

// localTarget splits a file:// url or bare path into the allowed root it
// lives under and its path relative to that root.
func localTarget(url string, localRoots []string) (root, rel string, err error) {
	if strings.Contains(url, "://") && !strings.HasPrefix(url, "file://") {
		return "", "", &domain.ConfigurationError{Key: url, Kind: domain.ErrForbiddenSource, Detail: "unsupported url scheme"}
	}
	path, err := filepath.Abs(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve %s: %w", url, err)
	}

	for _, r := range localRoots {
		if r == "" {
			continue
		}
		absRoot, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(absRoot, path); err == nil && filepath.IsLocal(rel) {
			return absRoot, rel, nil
		}
	}
	return "", "", &domain.ConfigurationError{Key: url, Kind: domain.ErrForbiddenSource, Detail: "local files must be inside an allowed root"}
}

// Load returns the record body as a Document.
func (l *Loader) Load(ctx context.Context, rec *domain.Record) (Document, error) {
	if err := rec.Validate(); err != nil {
		return Document{}, err
	}
	if rec.Content != "" {
		return Document{Type: rec.Type, Source: "inline", Body: []byte(rec.Content)}, nil
	}

	body, err := l.Fetch(ctx, rec.URL)
	if err != nil {
		return Document{}, err
	}
	return Document{Type: rec.Type, Source: rec.URL, Body: body}, nil
}

// Fetch reads the document at url.
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return l.fetchHTTP(ctx, url)
	case strings.HasPrefix(url, "s3://"):
		return l.fetchObject(ctx, url)
	default:
		return l.fetchFile(url)
	}
}

// fetchHTTP streams the body so the size limit applies before it is all
// in memory.
func (l *Loader) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, domain.NewUpstreamError("http", "fetch document", 0, domain.ErrUpstreamUnavailable, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, domain.NewUpstreamError("http", "fetch document", resp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("GET %s", url))
	}
	return readLimited(body, l.maxBytes, url)
}

func (l *Loader) fetchObject(ctx context.Context, url string) ([]byte, error) {
	ref, _, err := storage.ParseObjectURL(url)
	if err != nil {
		return nil, err
	}
	if l.store == nil {
		return nil, &domain.ConfigurationError{Key: "storage", Kind: domain.ErrUnsupportedType, Detail: "object storage is disabled, cannot read " + url}
	}

	var rc io.ReadCloser
	if dl, ok := l.store.(objectDownloader); ok {
		rc, err = dl.DownloadFrom(ctx, ref)
	} else {
		rc, err = l.store.Download(ctx, ref.Key)
	}
	if err != nil {
		return nil, domain.NewUpstreamError("storage", "fetch document", 0, domain.ErrUpstreamUnavailable, err)
	}
	defer rc.Close()

	return readLimited(rc, l.maxBytes, url)
}

// fetchFile opens the file through an os.Root so symlinks cannot lead
// outside the allowed directory.
func (l *Loader) fetchFile(url string) ([]byte, error) {
	dir, rel, err := localTarget(url, l.localRoots)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open document root: %w", err)
	}
	defer root.Close()

	f, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()
	return readLimited(f, l.maxBytes, url)
}

func readLimited(r io.Reader, limit int64, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("document %s exceeds %d bytes", name, limit)
	}
	return data, nil
}
