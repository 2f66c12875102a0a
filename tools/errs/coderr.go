package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrs "github.com/pkg/errors"
)

// CodeError is the error value reported back to clients. Under errors.Is two
// CodeErrors match when their codes are equal, whatever the detail.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	s := strconv.Itoa(e.Code) + " " + e.Msg
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

// WithDetail returns a copy with detail appended. Sentinels stay untouched.
func (e *CodeError) WithDetail(detail string) *CodeError {
	out := *e
	if detail == "" {
		return &out
	}
	if out.Detail != "" {
		out.Detail += ", "
	}
	out.Detail += detail
	return &out
}

// Wrap returns a copy carrying the caller's stack.
func (e *CodeError) Wrap() error {
	return pkgerrs.WithStack(e.WithDetail(""))
}

// WrapMsg is Wrap plus a detail built from msg and key/value pairs.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return pkgerrs.WithStack(e.WithDetail(kvString(msg, kv)))
}

func (e *CodeError) Is(target error) bool {
	var other *CodeError
	if !errors.As(target, &other) {
		return false
	}
	if e == nil || other == nil {
		return e == other
	}
	return e.Code == other.Code
}

// AsCode finds the CodeError in err's chain.
func AsCode(err error) (*CodeError, bool) {
	var ce *CodeError
	ok := errors.As(err, &ce)
	return ce, ok
}

// WrapMsg annotates any error with msg and key/value pairs. nil stays nil.
func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrs.Wrap(err, kvString(msg, kv))
}

// kvString renders "msg k1=v1 k2=v2". A dangling key gets the value MISSING.
func kvString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	parts := make([]string, 0, len(kv)/2+1)
	if msg != "" {
		parts = append(parts, msg)
	}
	for i := 0; i < len(kv); i += 2 {
		val := any("MISSING")
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		parts = append(parts, fmt.Sprintf("%v=%v", kv[i], val))
	}
	return strings.Join(parts, " ")
}
