package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestTTL_GetSet проверяет базовые операции Get/Set.
func TestTTL_GetSet(t *testing.T) {
	c := NewTTL[string, int]("test_get_set", 10, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	c.Set("a", 42)
	got, ok := c.Get("a")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got != 42 {
		t.Errorf("Get() = %d, ожидали 42", got)
	}
}

// TestTTL_Delete проверяет инвалидацию.
func TestTTL_Delete(t *testing.T) {
	c := NewTTL[string, int]("test_delete", 10, time.Minute)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("ожидался cache miss после Delete")
	}
}

// TestTTL_Expiration проверяет истечение TTL.
func TestTTL_Expiration(t *testing.T) {
	c := NewTTL[string, int]("test_expiration", 10, 50*time.Millisecond)
	c.Set("a", 1)

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatal("ожидался cache miss после истечения TTL")
	}
}

// TestTTL_GetOrLoad проверяет загрузку при промахе и повторное использование.
func TestTTL_GetOrLoad(t *testing.T) {
	c := NewTTL[string, string]("test_load", 10, time.Minute)
	ctx := context.Background()

	var calls int
	load := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrLoad(ctx, "k", load)
		if err != nil {
			t.Fatalf("GetOrLoad() ошибка: %v", err)
		}
		if got != "value" {
			t.Errorf("GetOrLoad() = %q", got)
		}
	}
	if calls != 1 {
		t.Errorf("load вызван %d раз, ожидали 1", calls)
	}
}

// TestTTL_GetOrLoadError проверяет, что ошибка загрузки не кэшируется.
func TestTTL_GetOrLoadError(t *testing.T) {
	c := NewTTL[string, int]("test_load_error", 10, time.Minute)
	ctx := context.Background()
	boom := errors.New("db down")

	if _, err := c.GetOrLoad(ctx, "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку загрузки, получили %v", err)
	}

	got, err := c.GetOrLoad(ctx, "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil {
		t.Fatalf("GetOrLoad() ошибка: %v", err)
	}
	if got != 7 {
		t.Errorf("GetOrLoad() = %d, ожидали 7", got)
	}
}

// TestTTL_GetOrLoadConcurrent проверяет дедупликацию параллельных промахов.
func TestTTL_GetOrLoadConcurrent(t *testing.T) {
	c := NewTTL[string, int]("test_load_concurrent", 10, time.Minute)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrLoad(ctx, "k", load); err != nil {
				t.Errorf("GetOrLoad() ошибка: %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("load вызван %d раз, ожидали 1", n)
	}
}

// TestTTL_DeleteDuringLoad проверяет, что инвалидация во время загрузки
// не перекрывается устаревшим значением.
func TestTTL_DeleteDuringLoad(t *testing.T) {
	c := NewTTL[string, int]("test_delete_during_load", 10, time.Minute)
	ctx := context.Background()

	var current atomic.Int32
	current.Store(1)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan int)
	go func() {
		got, err := c.GetOrLoad(ctx, "k", func(context.Context) (int, error) {
			v := int(current.Load())
			close(started)
			<-release
			return v, nil
		})
		if err != nil {
			t.Errorf("GetOrLoad() ошибка: %v", err)
		}
		done <- got
	}()

	<-started
	current.Store(2)
	c.Delete("k")
	close(release)
	<-done

	got, err := c.GetOrLoad(ctx, "k", func(context.Context) (int, error) {
		return int(current.Load()), nil
	})
	if err != nil {
		t.Fatalf("GetOrLoad() ошибка: %v", err)
	}
	if got != 2 {
		t.Errorf("GetOrLoad() = %d, ожидали актуальное значение 2", got)
	}
}

// TestTTL_GetOrLoadCallerCancel проверяет, что отмена контекста первого
// вызывающего не прерывает загрузку для остальных.
func TestTTL_GetOrLoadCallerCancel(t *testing.T) {
	c := NewTTL[string, int]("test_load_cancel", 10, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 5, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = c.GetOrLoad(leaderCtx, "k", load)
	}()
	<-started

	var (
		followerVal int
		followerErr error
		wg          sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		followerVal, followerErr = c.GetOrLoad(context.Background(), "k", load)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	<-leaderDone

	if followerErr != nil {
		t.Fatalf("GetOrLoad() ошибка у ожидающего: %v", followerErr)
	}
	if followerVal != 5 {
		t.Errorf("GetOrLoad() = %d, ожидали 5", followerVal)
	}
}
