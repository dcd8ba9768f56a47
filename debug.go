package msodump

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

var (
	debugOnce    sync.Once
	debugEnabled bool

	// DebugWriter receives debug output when tracing is enabled.
	DebugWriter io.Writer = os.Stderr
)

// SetDebug overrides the OLE_DEBUG environment setting.
func SetDebug(enabled bool) {
	debugOnce.Do(func() {})
	debugEnabled = enabled
}

func IsDebug() bool {
	debugOnce.Do(func() {
		for _, x := range os.Environ() {
			if strings.HasPrefix(x, "OLE_DEBUG=1") {
				debugEnabled = true
				break
			}
		}
	})
	return debugEnabled
}

func DebugPrintf(fmt_str string, args ...interface{}) {
	if !IsDebug() {
		return
	}

	if !strings.HasSuffix(fmt_str, "\n") {
		fmt_str += "\n"
	}
	fmt.Fprintf(DebugWriter, fmt_str, args...)
}

// DebugDump writes a spew rendering of arg when tracing is enabled.
func DebugDump(label string, arg interface{}) {
	if !IsDebug() {
		return
	}

	fmt.Fprintf(DebugWriter, "%s:\n", label)
	spew.Fdump(DebugWriter, arg)
}
