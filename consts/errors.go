package consts

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMessageExists    = errors.New("message already exists")
	ErrMalformedMessage = errors.New("malformed message")

	ErrS3UploadFailed = errors.New("s3 upload failed")
	ErrNoBlobStore    = errors.New("message body is in object storage but none is configured")

	ErrLockLost = errors.New("maildrop lock no longer held by this session")
)
