package main

import (
	"errors"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

const (
	exitCodeFailure = 1
	exitCodeConfig  = 2
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitCodeFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError maps err to a process exit code. Configuration errors
// exit with 2 even when they were not tagged explicitly.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch vberrors.GetCode(err) {
	case vberrors.ErrCodeConfigLoad, vberrors.ErrCodeConfigParse, vberrors.ErrCodeConfigInvalid:
		return exitCodeConfig
	}
	return exitCodeFailure
}
