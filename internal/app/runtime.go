package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv marks a process started by go test. The binaries exit before
// dialing Postgres or Redis when it is set.
const TestModeEnv = "UNIGATE_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true value. The variable
// is read once per process.
var InTestMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})
