package errs

import (
	"fmt"

	pkgerrs "github.com/pkg/errors"
)

// ErrPanic turns a recovered value into an internal CodeError carrying the
// stack of the recovering goroutine. A nil value means nothing panicked.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	detail := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		// keep typed panics readable: "runtime error: index out of range"
		detail = fmt.Sprintf("%T: %v", err, err)
		if ce, ok := AsCode(err); ok {
			return pkgerrs.WithStack(ce.WithDetail(""))
		}
	}
	return pkgerrs.WithStack(ErrInternalServer.WithDetail(detail))
}
