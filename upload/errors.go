package upload

import "errors"

// ErrNoFileSelected is returned when the file input does not resolve to an
// existing file. No network call is made in this case.
var ErrNoFileSelected = errors.New("no file matched the provided path, nothing to upload")

// ErrUploadInProgress is returned when Upload is called while a previous run
// on the same uploader has not reached a terminal state yet.
var ErrUploadInProgress = errors.New("an upload is already in progress")

// ErrUploadFailed is the single user-facing error of a failed upload run.
// The underlying reason is written to the log, not attached to the error.
var ErrUploadFailed = errors.New("video upload failed")
