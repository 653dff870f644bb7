package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/syncly/internal/chunker"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
	"github.com/jaywantadh/syncly/internal/transfer"
	"github.com/jaywantadh/syncly/pkg/logging"
)

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitSource    = 2
	exitStorage   = 3
	exitManifest  = 4
	exitTransfer  = 5
	exitCancelled = 130
)

type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string {
	return e.msg
}

func (e *exitCodeError) ExitCode() int {
	return e.code
}

// exitCode maps an engine error to the process exit code.
func exitCode(err error) int {
	var coder cli.ExitCoder
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &coder):
		return coder.ExitCode()
	case errors.Is(err, transfer.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, transfer.ErrSourceRead), errors.Is(err, chunker.ErrInvalidChunkSize):
		return exitSource
	case errors.Is(err, metadata.ErrManifestNotFound),
		errors.Is(err, metadata.ErrManifestCorrupt),
		errors.Is(err, metadata.ErrManifestInvalid),
		errors.Is(err, transfer.ErrInvalidManifest):
		return exitManifest
	case errors.Is(err, transfer.ErrTruncatedTransfer), errors.Is(err, transfer.ErrCorruptTransfer):
		return exitTransfer
	case errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, storage.ErrQuotaExceeded),
		errors.Is(err, storage.ErrUnauthorized):
		return exitStorage
	default:
		return exitFailure
	}
}

// exitErrHandler prints the error and exits with the mapped code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code := exitCode(err)
	if msg := err.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
		logging.Get().WithField("exit_code", code).Error(msg)
	}
	os.Exit(code)
}
