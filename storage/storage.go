// Package storage keeps message bodies in S3-compatible object storage.
//
// Keys are content addressed (domain/localpart/blake3-hash), so a body
// delivered twice to the same maildrop is stored once. Bodies can be
// encrypted client side with AES-256-GCM; the key is configured as 64 hex
// characters.
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/consts"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/pkg/metrics"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Storage struct {
	Client        *minio.Client
	BucketName    string
	Encrypt       bool
	EncryptionKey []byte
}

// New creates a client for the configured bucket and enables encryption when
// requested. It does not contact the endpoint; see CheckBucket.
func New(cfg config.S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.DisableTLS,
	})
	if err != nil {
		logger.Error("STORAGE: Failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	if cfg.Debug {
		client.TraceOn(os.Stdout)
	}

	s := &S3Storage{
		Client:     client,
		BucketName: cfg.Bucket,
	}
	if cfg.Encrypt {
		if err := s.EnableEncryption(cfg.EncryptionKey); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnableEncryption enables client-side encryption with a hex encoded
// 256-bit key.
func (s *S3Storage) EnableEncryption(encryptionKey string) error {
	if encryptionKey == "" {
		return fmt.Errorf("encryption key is required when encryption is enabled")
	}

	masterKey, err := hex.DecodeString(encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(masterKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes (64 hex characters)")
	}

	s.Encrypt = true
	s.EncryptionKey = masterKey
	logger.Info("STORAGE: Client-side encryption enabled")
	return nil
}

// CheckBucket verifies that the bucket exists and is reachable.
func (s *S3Storage) CheckBucket(ctx context.Context) error {
	ok, err := s.Client.BucketExists(ctx, s.BucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.BucketName, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.BucketName)
	}
	return nil
}

// Exists checks if an object with the given key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, string, error) {
	objInfo, err := s.Client.StatObject(ctx, s.BucketName, key, minio.StatObjectOptions{})
	if err == nil {
		return true, objInfo.VersionID, nil
	}
	if isNotFound(err) {
		return false, "", nil
	}
	return false, "", fmt.Errorf("failed to stat object %s: %w", key, err)
}

func (s *S3Storage) Put(ctx context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { record("PUT", start, err) }()

	if s.Encrypt {
		if data, err = s.encryptData(data); err != nil {
			metrics.StorageOperationErrors.WithLabelValues("PUT", "encryption_error").Inc()
			return fmt.Errorf("failed to encrypt data: %w", err)
		}
	}

	_, err = s.Client.PutObject(ctx, s.BucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{SendContentMd5: true, ContentType: "message/rfc822"})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", consts.ErrS3UploadFailed, key, err)
	}
	return nil
}

// Get downloads and, when enabled, decrypts an object. A missing object
// yields consts.ErrMessageNotFound.
func (s *S3Storage) Get(ctx context.Context, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { record("GET", start, err) }()

	object, err := s.Client.GetObject(ctx, s.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer object.Close()

	data, err = io.ReadAll(object)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", consts.ErrMessageNotFound, key)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	if s.Encrypt {
		if data, err = s.decryptData(data); err != nil {
			metrics.StorageOperationErrors.WithLabelValues("GET", "decryption_error").Inc()
			return nil, fmt.Errorf("failed to decrypt data: %w", err)
		}
	}
	return data, nil
}

// Delete removes an object. Deleting a missing object succeeds.
func (s *S3Storage) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { record("DELETE", start, err) }()

	exists, versionID, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		logger.Debug("STORAGE: Object does not exist in S3 - skipping deletion", "key", key)
		return nil
	}
	return s.Client.RemoveObject(ctx, s.BucketName, key, minio.RemoveObjectOptions{VersionID: versionID})
}

func record(operation string, start time.Time, err error) {
	metrics.S3OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.S3OperationsTotal.WithLabelValues(operation, "error").Inc()
		metrics.StorageOperationErrors.WithLabelValues(operation, classifyS3Error(err)).Inc()
		return
	}
	metrics.S3OperationsTotal.WithLabelValues(operation, "success").Inc()
}

// encryptData encrypts data using AES-256-GCM. The nonce is prepended.
func (s *S3Storage) encryptData(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *S3Storage) decryptData(ciphertext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *S3Storage) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

// classifyS3Error classifies S3 errors for metrics tracking
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case strings.Contains(errStr, "AccessDenied") || strings.Contains(errStr, "Forbidden"):
		return "access_denied"
	case strings.Contains(errStr, "NoSuchKey") || strings.Contains(errStr, "NotFound"):
		return "not_found"
	case strings.Contains(errStr, "SlowDown") || strings.Contains(errStr, "RequestLimitExceeded"):
		return "throttled"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "network_error"
	default:
		return "unknown"
	}
}
