package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op and must not panic
	SetLogger(nil)
	Logf("test message")
}

func TestWarnfPrefix(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Warnf("bad key length %d", 7)
	if got != "warning: bad key length 7" {
		t.Errorf("got %q", got)
	}
}

func TestOnceLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	count := 0
	SetLogger(func(string, ...interface{}) { count++ })

	var o OnceLogger
	for i := 0; i < 5; i++ {
		o.Logf("a", "missing signal a")
	}
	o.Logf("b", "missing signal b")
	if count != 2 {
		t.Errorf("logged %d times, want 2", count)
	}
}
