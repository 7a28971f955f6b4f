// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Deskmux Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreSessionGetNotFound    Code = "store.session.get.not_found"
	CodeStoreSessionCreateConflict Code = "store.session.create.conflict"
	CodeStoreSnapshotWriteConflict Code = "store.snapshot.write.conflict"
	CodeStoreSnapshotNotFound      Code = "store.snapshot.get.not_found"
	CodeStoreInvalidInput          Code = "store.invalid_input"
	CodeStoreDatabaseFailure       Code = "store.database.failure"
	CodeStoreOpenFailure           Code = "store.open.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeWatcherEnumerateFailure Code = "watcher.enumerate.failure"

	CodeCaptureSourceFailure Code = "capture.source.failure"

	CodeBridgeDialFailure    Code = "bridge.dial.failure"
	CodeBridgeChannelDown    Code = "bridge.channel.disconnected"
	CodeBridgeMessageInvalid Code = "bridge.message.invalid"
	CodeBridgeSendFailure    Code = "bridge.send.failure"

	CodeOrchestratorTransitionConflict Code = "orchestrator.transition.conflict"
	CodeOrchestratorSessionNotFound    Code = "orchestrator.session.not_found"
	CodeOrchestratorInvalidInput       Code = "orchestrator.command.invalid_input"
	CodeOrchestratorStopped            Code = "orchestrator.queue.stopped"

	CodeRestorePlanNotFound  Code = "restore.plan.not_found"
	CodeRestoreLaunchFailure Code = "restore.action.launch_failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerEntityNotFound  Code = "server.entity.not_found"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLIDaemonNotRunning Code = "cli.daemon.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldDesktopKey(value string) Attr {
	return Field("desktop_key", value)
}

func FieldAction(value string) Attr {
	return Field("action", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// IsSoft reports whether err belongs to the transient class: producers report
// these as events and the orchestrator continues on its normal schedule.
func IsSoft(err error) bool {
	switch CodeOf(err) {
	case CodeWatcherEnumerateFailure, CodeCaptureSourceFailure,
		CodeBridgeDialFailure, CodeBridgeChannelDown,
		CodeBridgeMessageInvalid, CodeBridgeSendFailure,
		CodeRestoreLaunchFailure:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
