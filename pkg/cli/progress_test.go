package cli

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestSimpleProgressBasic(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "Probing")

	progress.Start(4)
	progress.Increment()
	progress.Increment()
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Probing:") {
		t.Error("Expected progress output to contain the label")
	}
	if !strings.Contains(output, "(2/4)") {
		t.Error("Expected intermediate count in output")
	}
	if !strings.Contains(output, "100% (4/4)") {
		t.Errorf("Expected final state in output, got %q", output)
	}
}

func TestSimpleProgressConcurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "").(*SimpleProgress)
	progress.Start(50)

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			progress.Increment()
		}()
	}
	wg.Wait()

	if progress.current != 50 {
		t.Errorf("expected count capped at 50, got %d", progress.current)
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "x")

	progress.Start(0)
	progress.Increment()
	progress.Finish()

	if buf.Len() != 0 {
		t.Errorf("expected no output for zero total, got %q", buf.String())
	}
}

func TestSimpleProgressError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "x")

	progress.Start(2)
	progress.Error(fmt.Errorf("test error"))

	if !strings.Contains(buf.String(), "error: test error") {
		t.Errorf("Expected error message in output, got %q", buf.String())
	}
}
