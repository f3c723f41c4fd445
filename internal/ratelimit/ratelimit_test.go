package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		bytesPerSecond int64
		expectNil      bool
	}{
		{"Valid rate", 1024, false},
		{"Zero rate (unlimited)", 0, true},
		{"Negative rate (unlimited)", -1, true},
		{"Very low rate", 1, false},
		{"High rate", 10 * 1024 * 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond)
			if tt.expectNil && limiter != nil {
				t.Errorf("Expected nil limiter for rate %d, got non-nil", tt.bytesPerSecond)
			}
			if !tt.expectNil && limiter == nil {
				t.Errorf("Expected non-nil limiter for rate %d, got nil", tt.bytesPerSecond)
			}
			if limiter != nil && limiter.Rate() != tt.bytesPerSecond {
				t.Errorf("Rate() = %d, want %d", limiter.Rate(), tt.bytesPerSecond)
			}
		})
	}
}

func TestNilLimiter(t *testing.T) {
	t.Parallel()

	var l *Limiter
	if err := l.Wait(context.Background(), 1<<20); err != nil {
		t.Errorf("nil limiter Wait: %v", err)
	}
	if l.Rate() != 0 {
		t.Errorf("nil limiter Rate() = %d", l.Rate())
	}

	reader := bytes.NewReader([]byte("test data"))
	if NewReader(context.Background(), reader, nil) != io.Reader(reader) {
		t.Error("Expected original reader when limiter is nil")
	}

	var buf bytes.Buffer
	if NewWriter(context.Background(), &buf, nil) != io.Writer(&buf) {
		t.Error("Expected original writer when limiter is nil")
	}
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestReader_Throttles(t *testing.T) {
	t.Parallel()

	// 10KB at 5KB/s: the first second is covered by the burst.
	data := testData(10 * 1024)
	reader := NewReader(context.Background(), bytes.NewReader(data), New(5*1024))

	start := time.Now()
	result, err := io.ReadAll(reader)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, result) {
		t.Error("Data mismatch after rate-limited read")
	}
	if duration < 700*time.Millisecond {
		t.Errorf("Read completed too quickly (%v), rate limiting may not be working", duration)
	}
	if duration > 3*time.Second {
		t.Errorf("Read took too long (%v)", duration)
	}
}

func TestWriter_Throttles(t *testing.T) {
	t.Parallel()

	data := testData(10 * 1024)
	var buf bytes.Buffer
	writer := NewWriter(context.Background(), &buf, New(5*1024))

	start := time.Now()
	n, err := writer.Write(data)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected to write %d bytes, got %d", len(data), n)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Error("Data mismatch after rate-limited write")
	}
	if duration < 700*time.Millisecond {
		t.Errorf("Write completed too quickly (%v), rate limiting may not be working", duration)
	}
}

func TestWriter_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	writer := NewWriter(ctx, &buf, New(1024))

	// Drain the burst, then cancel while waiting for the next chunk.
	time.AfterFunc(50*time.Millisecond, cancel)
	n, err := writer.Write(testData(8 * 1024))
	if err == nil {
		t.Fatal("expected an error after cancel")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n != 1024 {
		t.Errorf("written before cancel = %d, want 1024", n)
	}
}

func TestUnlimitedRate(t *testing.T) {
	t.Parallel()

	data := testData(10 * 1024)
	reader := NewReader(context.Background(), bytes.NewReader(data), nil)

	start := time.Now()
	result, err := io.ReadAll(reader)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(result) != len(data) {
		t.Errorf("Expected to read %d bytes, got %d", len(data), len(result))
	}
	if duration > 100*time.Millisecond {
		t.Errorf("Unlimited read took too long (%v)", duration)
	}
}

func BenchmarkWriter(b *testing.B) {
	data := testData(1024)
	limiter := New(1 << 30)

	for b.Loop() {
		var buf bytes.Buffer
		writer := NewWriter(context.Background(), &buf, limiter)
		if _, err := writer.Write(data); err != nil {
			b.Fatal(err)
		}
	}
}
