package instrument_test

import (
	"bytes"
	"go/printer"
	"go/token"
	"strings"
	"testing"

	"github.com/amirkhaki/mycroft/pkg/instrument"
)

func instrumentSource(t *testing.T, src string) string {
	t.Helper()
	instr := instrument.NewInstrumenter(nil)
	fset := token.NewFileSet()

	f, err := instr.InstrumentFile(fset, "test.go", src)
	if err != nil {
		t.Fatalf("InstrumentFile failed: %v", err)
	}

	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, f); err != nil {
		t.Fatalf("Failed to print AST: %v", err)
	}
	return buf.String()
}

func TestInstrumentGoStatement(t *testing.T) {
	src := `package main

func work(n int) {}

func main() {
	x := 10
	go work(x + 1)
}
`

	result := instrumentSource(t, src)

	// Check that runtime package is imported
	if !strings.Contains(result, "github.com/amirkhaki/mycroft/pkg/runtime") {
		t.Error("Expected runtime package import")
	}

	// Check that mangled alias is used (starts with __mycroft_)
	if !strings.Contains(result, "__mycroft_") {
		t.Error("Expected mangled runtime alias starting with __mycroft_")
	}

	// The go statement becomes a Spawn call named after the function
	if !strings.Contains(result, `.Spawn("work", func()`) {
		t.Error("Expected go statement rewritten to a Spawn call")
	}

	// Arguments are hoisted before the spawn
	if !strings.Contains(result, "__mycroft_p0 := x + 1") {
		t.Error("Expected spawned call arguments to be hoisted")
	}
	if strings.Contains(result, "go work") {
		t.Error("Expected original go statement to be removed")
	}
}

func TestInstrumentChannelOperations(t *testing.T) {
	src := `package main

func main() {
	ch := make(chan int, 1)
	ch <- 42
	v := <-ch
	_ = v
}
`

	result := instrumentSource(t, src)

	if !strings.Contains(result, ".ChanSend(ch, 42)") {
		t.Error("Expected channel send rewritten to ChanSend")
	}
	if !strings.Contains(result, ".ChanRecv(ch)") {
		t.Error("Expected channel receive rewritten to ChanRecv")
	}
	if strings.Contains(result, "ch <- 42") {
		t.Error("Expected original send statement to be removed")
	}
}

func TestTwoValueReceiveLeftAlone(t *testing.T) {
	src := `package main

func main() {
	ch := make(chan int)
	v, ok := <-ch
	_, _ = v, ok
}
`

	result := instrumentSource(t, src)

	if strings.Contains(result, "ChanRecv") {
		t.Error("Two-value receive must not be rewritten")
	}
}

func TestSelectLeftAlone(t *testing.T) {
	src := `package main

func main() {
	a := make(chan int)
	b := make(chan int)
	select {
	case v := <-a:
		_ = v
	case b <- 1:
	}
}
`

	result := instrumentSource(t, src)

	if strings.Contains(result, "ChanRecv") || strings.Contains(result, "ChanSend") {
		t.Error("Channel operations inside select must not be rewritten")
	}
}

func TestInstrumentSleepAndGosched(t *testing.T) {
	src := `package main

import (
	"runtime"
	"time"
)

func main() {
	time.Sleep(10 * time.Millisecond)
	runtime.Gosched()
}
`

	result := instrumentSource(t, src)

	if !strings.Contains(result, ".Delay(10 * time.Millisecond)") {
		t.Error("Expected time.Sleep rewritten to Delay")
	}
	if !strings.Contains(result, ".Yield()") {
		t.Error("Expected runtime.Gosched rewritten to Yield")
	}
	if strings.Contains(result, "time.Sleep") {
		t.Error("Expected original time.Sleep call to be removed")
	}
	// The runtime import has no remaining use and must be pruned
	if strings.Contains(result, "\"runtime\"") {
		t.Error("Expected orphaned runtime import to be removed")
	}
}

func TestInstrumentMutex(t *testing.T) {
	src := `package main

import "sync"

func main() {
	var mu sync.Mutex
	mu.Lock()
	mu.Unlock()
}
`

	result := instrumentSource(t, src)

	if !strings.Contains(result, ".MutexLock(&mu)") {
		t.Error("Expected Lock rewritten to MutexLock on the address of the mutex")
	}
	if !strings.Contains(result, ".MutexUnlock(&mu)") {
		t.Error("Expected Unlock rewritten to MutexUnlock on the address of the mutex")
	}
}

func TestInstrumentMainLifecycle(t *testing.T) {
	src := `package main

func main() {
	go func() {}()
}
`

	result := instrumentSource(t, src)

	if !strings.Contains(result, ".Initialize()") {
		t.Error("Expected Initialize call at the start of main")
	}
	if !strings.Contains(result, "defer") || !strings.Contains(result, ".Finalize()") {
		t.Error("Expected deferred Finalize call in main")
	}

	// Initialize must come before the spawned work
	initIdx := strings.Index(result, ".Initialize()")
	spawnIdx := strings.Index(result, ".Spawn(")
	if initIdx < 0 || spawnIdx < 0 || initIdx > spawnIdx {
		t.Error("Expected Initialize to precede the first Spawn")
	}
}

func TestNonMainPackageNotWrapped(t *testing.T) {
	src := `package lib

func Run() {
	go func() {}()
}
`

	result := instrumentSource(t, src)

	if strings.Contains(result, ".Initialize()") {
		t.Error("Non-main packages must not get lifecycle calls")
	}
	if !strings.Contains(result, ".Spawn(") {
		t.Error("Expected go statement in library code to be rewritten")
	}
}

func TestUninstrumentedFileUntouched(t *testing.T) {
	src := `package main

func main() {
	x := 10
	x = 20
	_ = x
}
`

	instr := instrument.NewInstrumenter(nil)
	fset := token.NewFileSet()

	// main gets lifecycle calls, so use a library file
	libSrc := strings.Replace(src, "package main", "package lib", 1)
	libSrc = strings.Replace(libSrc, "func main()", "func Run()", 1)
	if _, err := instr.InstrumentFile(fset, "test.go", libSrc); err != nil {
		t.Fatalf("InstrumentFile failed: %v", err)
	}
	if instr.WasInstrumented() {
		t.Error("File without concurrency points must not be marked instrumented")
	}
}

func TestCustomConfig(t *testing.T) {
	config := &instrument.Config{
		BaseRuntimeAddress: "custom/runtime",
		ImportRewrites:     map[string]string{},
	}

	instr := instrument.NewInstrumenter(config)
	if instr == nil {
		t.Fatal("NewInstrumenter returned nil")
	}
}
