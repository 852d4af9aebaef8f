package symcore

import (
	"errors"
	"fmt"
)

// ============================================================
// Error kinds
// ============================================================

// ErrorKind classifies a kernel failure.
type ErrorKind uint8

const (
	InvalidToken ErrorKind = iota + 1
	OutOfMemory
	CannotConvert
	DimensionMismatch
	SingularMatrix
	InvalidMatrixSize
	NonPositiveValuation
	Unsupported
	InvalidMark
	InvalidHandle
	Stopped
	CallbackFailed
	Fatal
)

var errorKindNames = map[ErrorKind]string{
	InvalidToken:         "invalid-token",
	OutOfMemory:          "out-of-memory",
	CannotConvert:        "cannot-be-converted",
	DimensionMismatch:    "dimension-mismatch",
	SingularMatrix:       "singular-matrix",
	InvalidMatrixSize:    "invalid-matrix-size",
	NonPositiveValuation: "non-positive-valuation",
	Unsupported:          "unsupported",
	InvalidMark:          "invalid-mark",
	InvalidHandle:        "invalid-handle",
	Stopped:              "stopped",
	CallbackFailed:       "callback-failed",
	Fatal:                "fatal",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error-kind(%d)", uint8(k))
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrInvalidToken      = &Error{Kind: InvalidToken}
	ErrOutOfMemory       = &Error{Kind: OutOfMemory}
	ErrCannotConvert     = &Error{Kind: CannotConvert}
	ErrDimension         = &Error{Kind: DimensionMismatch}
	ErrSingular          = &Error{Kind: SingularMatrix}
	ErrMatrixSize        = &Error{Kind: InvalidMatrixSize}
	ErrValuation         = &Error{Kind: NonPositiveValuation}
	ErrUnsupported       = &Error{Kind: Unsupported}
	ErrInvalidMark       = &Error{Kind: InvalidMark}
	ErrStaleHandle       = &Error{Kind: InvalidHandle}
	ErrStopped           = &Error{Kind: Stopped}
	ErrCallbackFailed    = &Error{Kind: CallbackFailed}
	ErrFatal             = &Error{Kind: Fatal}
	errDivisionByZero    = errors.New("division by zero")
	errNotInvertibleMod  = errors.New("not invertible modulo")
	errFloatUnderModulus = errors.New("float leaf under integer modulus")
)

// ============================================================
// Error
// ============================================================

// Error is the failure value of every kernel operation. Context carries the
// value supplied to the handler frame that observed the error, if any.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Context any

	cause    error
	notified bool
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return "symcore: " + e.Kind.String()
	}
	return "symcore: " + e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	e := newError(kind, format, args...)
	e.cause = err
	if err != nil {
		e.Msg += ": " + err.Error()
	}
	return e
}

// KindOf returns the kind of a kernel error, or 0 when err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ============================================================
// Handler stack
// ============================================================

// Handler observes an error caught by a kernel guard.
type Handler func(err *Error, ctx any)

// Frame identifies an installed handler.
type Frame struct {
	id    uint64
	depth int
}

type catchFrame struct {
	id      uint64
	regions int
	handler Handler
	ctx     any
}

// Catch installs h on top of the handler stack. Frames must be removed with
// Uncatch in LIFO order. An error delivered to h releases every region
// opened after Catch.
func (k *Kernel) Catch(h Handler, ctx any) Frame {
	k.frameSerial++
	k.frames = append(k.frames, catchFrame{
		id:      k.frameSerial,
		regions: len(k.arena.regions),
		handler: h,
		ctx:     ctx,
	})
	return Frame{id: k.frameSerial, depth: len(k.frames)}
}

// Uncatch removes the innermost handler. Removing any other frame is an
// invariant violation and leaves the stack untouched.
func (k *Kernel) Uncatch(f Frame) error {
	top := len(k.frames)
	if top == 0 || f.depth != top || k.frames[top-1].id != f.id {
		return newError(Fatal, "uncatch of frame %d out of order (stack depth %d)", f.id, top)
	}
	k.frames = k.frames[:top-1]
	return nil
}

// Throw transfers control to the nearest kernel guard (an enclosing public
// operation or Try). It must only be called from inside a guard, such as an
// extension callback.
func (k *Kernel) Throw(kind ErrorKind, format string, args ...any) {
	panic(newError(kind, format, args...))
}

func (k *Kernel) throw(err *Error) {
	panic(err)
}

// Try runs fn under a guard. A Throw anywhere below fn unwinds to here, marks
// opened inside fn are released, the innermost handler is notified and the
// error is returned. An error fn returns as a value is treated the same way.
func (k *Kernel) Try(fn func() error) error {
	depth := len(k.arena.regions)
	frames := len(k.frames)
	var inner error
	if err := k.guard(func() {
		inner = fn()
	}); err != nil {
		return err
	}
	if inner == nil {
		return nil
	}
	k.unwind(depth, frames)
	var kerr *Error
	if errors.As(inner, &kerr) {
		k.notify(kerr)
		k.unwindToCatch()
	}
	return inner
}

// guard is the recovery point for the non-local exit. Regions opened and
// handlers installed after it started are dropped on failure.
func (k *Kernel) guard(fn func()) (err error) {
	if k.state != stateRunning {
		return newError(Stopped, "kernel is %s", k.state)
	}
	if k.guards == 0 {
		k.syncRegistry()
	}
	depth := len(k.arena.regions)
	frames := len(k.frames)
	k.guards++
	defer func() {
		if k.guards > 0 {
			k.guards--
		}
		r := recover()
		if r == nil {
			return
		}
		kerr, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		k.unwind(depth, frames)
		k.notify(kerr)
		k.unwindToCatch()
		err = kerr
	}()
	fn()
	return nil
}

// unwindToCatch releases the regions opened after the innermost catch frame.
// Only the outermost guard does this.
func (k *Kernel) unwindToCatch() {
	if k.guards > 0 || len(k.frames) == 0 {
		return
	}
	k.unwind(k.frames[len(k.frames)-1].regions, len(k.frames))
}

func (k *Kernel) unwind(depth, frames int) {
	released := 0
	for len(k.arena.regions) > depth {
		k.arena.release()
		released++
	}
	if released > 0 {
		k.log.Debug("released regions on error", "count", released, "depth", depth)
	}
	if len(k.frames) > frames {
		k.frames = k.frames[:frames]
	}
}

func (k *Kernel) notify(err *Error) {
	if err.notified {
		return
	}
	err.notified = true
	k.metrics.observeError(err.Kind)
	if len(k.frames) == 0 {
		k.log.Debug("unhandled kernel error", "kind", err.Kind.String(), "err", err.Msg)
		return
	}
	f := k.frames[len(k.frames)-1]
	err.Context = f.ctx
	k.log.Warn("kernel error caught", "kind", err.Kind.String(), "err", err.Msg)
	if f.handler != nil {
		f.handler(err, f.ctx)
	}
}

// callbackError converts an error returned by a capability callback into a
// kernel error.
func callbackError(name string, err error) *Error {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr
	}
	return wrapError(CallbackFailed, err, "%s", name)
}
