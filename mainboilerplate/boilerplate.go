// Package mainboilerplate contains shared boilerplate for sqlbridge programs.
// It provides a selection of narrowly scoped helpers (configuration parsing,
// logging, diagnostics and database configuration) so that programs don't
// have to buy into an all-or-nothing approach.
package mainboilerplate

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// k8sTerminationLog is the location to write a termination message for
	// Kubernetes to retrieve.
	//
	// Link: https://kubernetes.io/docs/tasks/debug-application-cluster/determine-reason-pod-failure/#setting-the-termination-log-file
	k8sTerminationLog = "/dev/termination-log"

	// maxStackTraceSize is the max bytes to allocate to stack traces.
	maxStackTraceSize = 32768
)

// Version and BuildDate of the program, populated at link time
// (eg, -ldflags "-X go.sqlbridge.dev/core/mainboilerplate.Version=v1.2.3").
var (
	Version   = "development"
	BuildDate = "unknown"
)

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// writeTerminationMessage makes a best-effort attempt to write |r| as the
// Kubernetes termination message, and logs it with a stack trace.
func writeTerminationMessage(r interface{}) {
	// Bug: https://github.com/kubernetes/kubernetes/issues/31839
	if f, err := os.OpenFile(k8sTerminationLog, os.O_WRONLY, 0777); err == nil {
		fmt.Fprintf(f, "%+v", r)
		f.Close()
	}

	var stack = make([]byte, maxStackTraceSize)
	stack = stack[:runtime.Stack(stack, false)]
	log.WithFields(log.Fields{
		"err":   r,
		"stack": strings.Split(string(stack), "\n"),
	}).Error("panic")
}
