package syncsocket

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `syncsocket` package:
// Info:
//     events for abnormal behavior. This level should be silent on normal operation.
//     this includes:
//     - connection drops and reconnect attempts
//     - protocol violations from the peer (unknown result ids, bad scopes)
//     - panics in application callbacks
// V(1):
//     connection lifecycle (dial, handshake, close) and routing misses
// V(2):
//     every frame in and out
// The `Debug` client setting promotes the command trace to Info.

type LogFunction func(string, ...any)

// LogFn returns a tagged logger that writes at verbosity `level`.
func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
		}
	}
}
