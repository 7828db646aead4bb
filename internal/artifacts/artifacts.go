// Package artifacts stores the raw documents adapters extracted products
// from, so a broken extraction can be replayed against what the upstream
// actually served.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher digests keywords into stable path segments.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config wires a Recorder.
type Config struct {
	Store  BlobStore
	Hasher Hasher
	Prefix string
	Now    func() time.Time
	Logger *zap.Logger
}

// Recorder writes captures to a BlobStore. A nil *Recorder discards
// everything, so adapters can call it unconditionally.
type Recorder struct {
	store  BlobStore
	hasher Hasher
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

const keyHashLen = 12

// New returns a Recorder. Store and Hasher are required.
func New(cfg Config) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("artifact hasher is required")
	}
	r := &Recorder{
		store:  cfg.Store,
		hasher: cfg.Hasher,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    cfg.Now,
		logger: cfg.Logger,
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

// Key builds <prefix>/<source>/<yyyy/mm/dd>/<hash(keyword)[:12]>-<unixnano>.<ext>.
func (r *Recorder) Key(source, keyword, ext string) (string, error) {
	sum, err := r.hasher.Hash([]byte(strings.ToLower(keyword)))
	if err != nil {
		return "", fmt.Errorf("hash keyword: %w", err)
	}
	if len(sum) > keyHashLen {
		sum = sum[:keyHashLen]
	}
	ts := r.now().UTC()
	name := fmt.Sprintf("%s-%d.%s", sum, ts.UnixNano(), strings.TrimPrefix(ext, "."))
	return path.Join(r.prefix, source, ts.Format("2006/01/02"), name), nil
}

// Capture stores data and returns its URI. Failures are logged and reported
// as an empty URI; a capture never fails a search.
func (r *Recorder) Capture(ctx context.Context, source, keyword, ext string, data []byte) string {
	if r == nil || len(data) == 0 {
		return ""
	}
	key, err := r.Key(source, keyword, ext)
	if err != nil {
		r.logger.Warn("artifact key failed", zap.String("source", source), zap.Error(err))
		return ""
	}
	uri, err := r.store.PutObject(ctx, key, contentType(ext), bytes.NewReader(data))
	if err != nil {
		r.logger.Warn("artifact upload failed",
			zap.String("source", source),
			zap.String("key", key),
			zap.Error(err),
		)
		return ""
	}
	r.logger.Debug("artifact stored", zap.String("source", source), zap.String("uri", uri), zap.Int("bytes", len(data)))
	return uri
}

func contentType(ext string) string {
	switch strings.TrimPrefix(ext, ".") {
	case "html":
		return "text/html; charset=utf-8"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
