package actor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's numeric id from its own
// stack trace header ("goroutine 123 [running]: ..."). There is no
// supported stdlib API for this; parsing runtime.Stack's header is the
// well-known zero-dependency technique for it, and it's exactly what
// Executor needs to tell "a task running on my own loop called Invoke
// again" (self-invocation, which must run inline to avoid deadlocking
// against itself) apart from "some unrelated goroutine called Invoke while
// the loop happens to be busy" (which must enqueue and wait, §4.9).
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
