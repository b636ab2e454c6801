package corecb

import "io"

// Level mirrors the severity levels a caller's logger understands. The core
// never imports a logging package directly; it only ever calls Callbacks.Log.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Callbacks is the entire process boundary: the core touches no other
// global state. A caller (CLI, test, future UI) supplies one of these and
// nothing else.
type Callbacks struct {
	Log           func(level Level, msg string)
	Progress      func(current, total int64, speedBps float64)
	ShouldCancel  func() bool
	OpenOutput    func(path string) (io.WriteCloser, error)
	ReadKeyFile   func() ([]byte, error)
}

// Nop returns a Callbacks whose fields are all safe, do-nothing
// implementations — useful for tests and for library callers that only
// want a subset of the surface.
func Nop() Callbacks {
	return Callbacks{
		Log:          func(Level, string) {},
		Progress:     func(int64, int64, float64) {},
		ShouldCancel: func() bool { return false },
	}
}

func (c Callbacks) logf(level Level, msg string) {
	if c.Log != nil {
		c.Log(level, msg)
	}
}

// Cancelled reports whether the caller has requested cancellation. A nil
// ShouldCancel is treated as "never cancel".
func (c Callbacks) Cancelled() bool {
	return c.ShouldCancel != nil && c.ShouldCancel()
}

// LogDebug/LogInfo/LogWarn/LogError are convenience wrappers used throughout
// the core so call sites read like a normal structured logger without the
// core owning one.
func (c Callbacks) LogDebug(msg string) { c.logf(LevelDebug, msg) }
func (c Callbacks) LogInfo(msg string)  { c.logf(LevelInfo, msg) }
func (c Callbacks) LogWarn(msg string)  { c.logf(LevelWarn, msg) }
func (c Callbacks) LogError(msg string) { c.logf(LevelError, msg) }
