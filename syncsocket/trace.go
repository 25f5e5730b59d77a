package syncsocket

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// HandleError runs `do` and recovers a panic.
// Handlers may be `func()` or `func(error)` and run only when `do` panicked.
// Callbacks and local functions run inside this so a panic never reaches the reader.
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			glog.Warningf("[c]recovered = %s\n", ErrorJson(r, debug.Stack()))
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

// ErrorJson renders a recovered value and its stack on one line
func ErrorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			stackLines = append(stackLines, line)
		}
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%v", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}

// TraceWithReturnError logs the start and end of `do` at V(2), with the duration and outcome.
func TraceWithReturnError[R any](tag string, do func() (R, error)) (R, error) {
	if !glog.V(2) {
		return do()
	}
	start := time.Now()
	glog.Infof("%s start\n", tag)
	result, err := do()
	millis := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		glog.Infof("%s end (%.2fms) err = %s\n", tag, millis, err)
	} else {
		glog.Infof("%s end (%.2fms) = %v\n", tag, millis, result)
	}
	return result, err
}
