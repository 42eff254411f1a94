// ABOUTME: Blob store collaborator for crate bytes, backed by gocloud.dev buckets
// ABOUTME: Provides put/get/delete/exists plus signed upload and download URLs

package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// Store is the interface the rest of the gateway programs against.
// It mirrors the object-storage collaborator boundary: opaque bytes at a
// path plus time-limited signed URLs for direct client transfer.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	SignedUploadURL(ctx context.Context, path, contentType string, ttl time.Duration) (string, error)
	SignedDownloadURL(ctx context.Context, path, filename string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// BucketStore implements Store on top of a gocloud.dev bucket.
type BucketStore struct {
	bucket *blob.Bucket
	logger *slog.Logger

	// Fallback signing for drivers without native signed URLs (memblob,
	// fileblob without a signer). URLs point back at the gateway, which
	// verifies the HMAC before proxying the transfer.
	baseURL    string
	signSecret []byte
}

// Open opens a bucket from a gocloud URL such as "file:///var/lib/mcph/crates"
// or "mem://". baseURL and secret configure the fallback URL signer.
func Open(ctx context.Context, bucketURL, baseURL string, secret []byte, logger *slog.Logger) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", bucketURL, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &BucketStore{
		bucket:     bucket,
		logger:     logger.With("component", "blob"),
		baseURL:    baseURL,
		signSecret: secret,
	}, nil
}

// Put writes data to the given path.
func (s *BucketStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	opts := &blob.WriterOptions{ContentType: contentType}
	if err := s.bucket.WriteAll(ctx, path, data, opts); err != nil {
		return fmt.Errorf("writing blob %q: %w", path, err)
	}
	return nil
}

// Get reads the full contents at the given path.
func (s *BucketStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading blob %q: %w", path, err)
	}
	return data, nil
}

// Delete removes the blob at the given path. Deleting a missing blob is an error.
func (s *BucketStore) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Delete(ctx, path); err != nil {
		return fmt.Errorf("deleting blob %q: %w", path, err)
	}
	return nil
}

// Exists reports whether a blob exists at the given path.
func (s *BucketStore) Exists(ctx context.Context, path string) (bool, error) {
	exists, err := s.bucket.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("checking blob %q: %w", path, err)
	}
	return exists, nil
}

// SignedUploadURL returns a time-limited URL a client can PUT bytes to.
func (s *BucketStore) SignedUploadURL(ctx context.Context, path, contentType string, ttl time.Duration) (string, error) {
	opts := &blob.SignedURLOptions{
		Method:      "PUT",
		Expiry:      ttl,
		ContentType: contentType,
	}
	u, err := s.bucket.SignedURL(ctx, path, opts)
	if err == nil {
		return u, nil
	}
	if gcerrors.Code(err) != gcerrors.Unimplemented {
		return "", fmt.Errorf("signing upload URL for %q: %w", path, err)
	}
	return s.localSignedURL("upload", path, "", ttl)
}

// SignedDownloadURL returns a time-limited URL serving the blob with a
// content-disposition filename.
func (s *BucketStore) SignedDownloadURL(ctx context.Context, path, filename string, ttl time.Duration) (string, error) {
	opts := &blob.SignedURLOptions{
		Method: "GET",
		Expiry: ttl,
	}
	u, err := s.bucket.SignedURL(ctx, path, opts)
	if err == nil {
		if filename != "" {
			u += "&response-content-disposition=" + url.QueryEscape("attachment; filename="+filename)
		}
		return u, nil
	}
	if gcerrors.Code(err) != gcerrors.Unimplemented {
		return "", fmt.Errorf("signing download URL for %q: %w", path, err)
	}
	return s.localSignedURL("download", path, filename, ttl)
}

// Ping verifies the bucket is reachable.
func (s *BucketStore) Ping(ctx context.Context) error {
	accessible, err := s.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("checking bucket access: %w", err)
	}
	if !accessible {
		return fmt.Errorf("bucket not accessible")
	}
	return nil
}

// Close releases the underlying bucket.
func (s *BucketStore) Close() error {
	return s.bucket.Close()
}

// localSignedURL mints a gateway-relative URL with an HMAC token for drivers
// that cannot sign natively. The gateway verifies the token before proxying.
func (s *BucketStore) localSignedURL(op, path, filename string, ttl time.Duration) (string, error) {
	expires := time.Now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("path", path)
	q.Set("expires", strconv.FormatInt(expires, 10))
	if filename != "" {
		q.Set("filename", filename)
	}
	q.Set("sig", s.sign(op, path, expires))

	return fmt.Sprintf("%s/blob/%s?%s", s.baseURL, op, q.Encode()), nil
}

// sign computes the HMAC token for a local signed URL.
func (s *BucketStore) sign(op, path string, expires int64) string {
	mac := hmac.New(sha256.New, s.signSecret)
	fmt.Fprintf(mac, "%s\n%s\n%d", op, path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyLocalURL checks the HMAC token and expiry of a locally signed URL.
// Returns false for expired or tampered tokens.
func (s *BucketStore) VerifyLocalURL(op, path, expiresStr, sig string) bool {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > expires {
		return false
	}
	expected := s.sign(op, path, expires)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// NewReader exposes a streaming reader, used when proxying local signed URLs.
func (s *BucketStore) NewReader(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening reader for %q: %w", path, err)
	}
	return r, nil
}
