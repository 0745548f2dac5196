package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/migadu/pop3d/config"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNew(t *testing.T) {
	s, err := New(config.S3Config{Endpoint: "localhost:9000", Bucket: "mail", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "mail", s.BucketName)
	assert.False(t, s.Encrypt)

	s, err = New(config.S3Config{Endpoint: "localhost:9000", Bucket: "mail", Encrypt: true, EncryptionKey: testKey})
	require.NoError(t, err)
	assert.True(t, s.Encrypt)
	assert.Len(t, s.EncryptionKey, 32)

	_, err = New(config.S3Config{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = New(config.S3Config{Endpoint: "localhost:9000", Bucket: "mail", Encrypt: true})
	assert.ErrorContains(t, err, "encryption key is required")
}

func TestEnableEncryptionValidatesKey(t *testing.T) {
	s := &S3Storage{}
	assert.ErrorContains(t, s.EnableEncryption("zz"), "failed to decode")
	assert.ErrorContains(t, s.EnableEncryption("abcd"), "must be 32 bytes")
	assert.False(t, s.Encrypt)

	require.NoError(t, s.EnableEncryption(testKey))
	assert.True(t, s.Encrypt)
}

func TestEncryptionRoundTrip(t *testing.T) {
	s := &S3Storage{}
	require.NoError(t, s.EnableEncryption(testKey))

	plain := []byte("From: a@example.com\r\nSubject: hi\r\n\r\nbody\r\n")
	sealed, err := s.encryptData(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "Subject")

	again, err := s.encryptData(plain)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per object")

	opened, err := s.decryptData(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.decryptData(sealed)
	assert.Error(t, err)

	_, err = s.decryptData([]byte("short"))
	assert.ErrorContains(t, err, "too short")
}

func TestDecryptWithOtherKeyFails(t *testing.T) {
	a := &S3Storage{}
	require.NoError(t, a.EnableEncryption(testKey))
	b := &S3Storage{}
	require.NoError(t, b.EnableEncryption(strings.Repeat("ff", 32)))

	sealed, err := a.encryptData([]byte("secret"))
	require.NoError(t, err)
	_, err = b.decryptData(sealed)
	assert.Error(t, err)
}

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("put: %w", context.Canceled), "canceled"},
		{errors.New("AccessDenied: nope"), "access_denied"},
		{errors.New("NoSuchKey"), "not_found"},
		{errors.New("SlowDown please"), "throttled"},
		{errors.New("dial tcp: connection refused"), "network_error"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyS3Error(tt.err), "%v", tt.err)
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: 404}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{StatusCode: 403, Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("other")))
}
