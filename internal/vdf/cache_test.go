package vdf

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestBuildProducesReadableBytes(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(input, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var recorded int32
	ex := NewExecutor(1<<20, func(ctx context.Context, cmd []string, inputPath, leafPath string, pid, callerPID int, start, end float64, execErr error) {
		atomic.AddInt32(&recorded, 1)
	})

	rule := Rule{Cmd: "cat {input}"}
	key := CacheKey("a.txt+/a.txt.upper", rule)

	s, existed := ex.Get(key)
	if existed {
		t.Fatal("expected first Get to create the slot")
	}

	ex.Build(context.Background(), key, s, rule, input, "a.txt+/a.txt.upper", nil, 100)

	state, size := s.State()
	if state != Ready {
		t.Fatalf("expected Ready, got %v", state)
	}
	if size != 6 {
		t.Errorf("expected 6 bytes, got %d", size)
	}

	buf := make([]byte, 6)
	n, err := s.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 6 || string(buf) != "hello\n" {
		t.Errorf("unexpected read result: %q (n=%d)", buf[:n], n)
	}

	if atomic.LoadInt32(&recorded) != 1 {
		t.Error("expected the build recorder to be invoked once")
	}
}

func TestBuildFailureMarksFailed(t *testing.T) {
	ex := NewExecutor(1<<20, nil)
	rule := Rule{Cmd: "false"}
	key := CacheKey("x+/x.out", rule)

	s, _ := ex.Get(key)
	ex.Build(context.Background(), key, s, rule, "", "x+/x.out", nil, 0)

	state, _ := s.State()
	if state != Failed {
		t.Fatalf("expected Failed, got %v", state)
	}

	_, err := s.Read(make([]byte, 1), 0)
	if err == nil {
		t.Error("expected an error reading a Failed slot")
	}
}

func TestConcurrentGetJoinsSameSlot(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(input, []byte("concurrent\n"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var builds int32
	ex := NewExecutor(1<<20, nil)
	rule := Rule{Cmd: "cat {input}"}
	key := CacheKey("a.txt+/a.txt.cat", rule)

	var wg sync.WaitGroup
	var once sync.Once
	results := make([][]byte, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s, existed := ex.Get(key)
			if !existed {
				atomic.AddInt32(&builds, 1)
			}
			once.Do(func() {
				ex.Build(context.Background(), key, s, rule, input, "a.txt+/a.txt.cat", nil, 0)
			})

			var out []byte
			buf := make([]byte, 64)
			off := int64(0)
			for {
				n, err := s.Read(buf, off)
				if err != nil {
					t.Errorf("Read: %v", err)
					return
				}
				if n == 0 {
					state, _ := s.State()
					if state == Ready {
						break
					}
				}
				out = append(out, buf[:n]...)
				off += int64(n)
			}
			results[idx] = out
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if string(r) != "concurrent\n" {
			t.Errorf("reader %d got %q", i, r)
		}
	}
	if atomic.LoadInt32(&builds) != 1 {
		t.Errorf("expected exactly 1 goroutine to observe slot creation, got %d", builds)
	}
}
