//go:build !unix

package run

import "os"

var toggleSignals []os.Signal
