package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", config.MaxRetries)
	}
	if config.InitialInterval != time.Second {
		t.Errorf("InitialInterval = %v, want 1s", config.InitialInterval)
	}
	if config.MaxInterval != 30*time.Second {
		t.Errorf("MaxInterval = %v, want 30s", config.MaxInterval)
	}
	if config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %f, want 2.0", config.Multiplier)
	}
	if config.JitterFactor != 0.1 {
		t.Errorf("JitterFactor = %f, want 0.1", config.JitterFactor)
	}
}

func TestNew_FillsZeroValues(t *testing.T) {
	retrier := New(nil)
	if retrier == nil {
		t.Fatal("New(nil) returned nil")
	}
	if retrier.config.InitialInterval != time.Second {
		t.Errorf("InitialInterval = %v, want 1s", retrier.config.InitialInterval)
	}

	retrier = New(&Config{})
	if retrier.config.MaxInterval != 30*time.Second {
		t.Errorf("MaxInterval = %v, want 30s", retrier.config.MaxInterval)
	}
	if retrier.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %f, want 2.0", retrier.config.Multiplier)
	}
}

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0,
	}
}

func TestRetrier_Do_Success(t *testing.T) {
	retrier := New(fastConfig(3))

	attempts := 0
	result := retrier.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("Attempts = %d (op called %d), want 1", result.Attempts, attempts)
	}
}

func TestRetrier_Do_SuccessAfterRetries(t *testing.T) {
	retrier := New(fastConfig(5))

	attempts := 0
	result := retrier.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 3 || attempts != 3 {
		t.Errorf("Attempts = %d (op called %d), want 3", result.Attempts, attempts)
	}
}

func TestRetrier_Do_MaxRetriesExceeded(t *testing.T) {
	retrier := New(fastConfig(3))

	attempts := 0
	opErr := errors.New("persistent error")
	result := retrier.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return opErr
	})

	if !errors.Is(result.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", result.Err)
	}
	if !errors.Is(result.LastError, opErr) {
		t.Errorf("LastError = %v, want %v", result.LastError, opErr)
	}
	// Initial attempt plus 3 retries
	if result.Attempts != 4 || attempts != 4 {
		t.Errorf("Attempts = %d (op called %d), want 4", result.Attempts, attempts)
	}
}

func TestRetrier_Do_PermanentStopsImmediately(t *testing.T) {
	retrier := New(fastConfig(5))

	attempts := 0
	permErr := errors.New("bad request")
	result := retrier.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(permErr)
	})

	if !errors.Is(result.Err, permErr) {
		t.Errorf("Err = %v, want %v", result.Err, permErr)
	}
	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("Attempts = %d (op called %d), want 1", result.Attempts, attempts)
	}
}

func TestRetrier_Do_ContextCanceled(t *testing.T) {
	config := &Config{
		MaxRetries:      10,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		JitterFactor:    0,
	}
	retrier := New(config)

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	result := retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	})

	if !errors.Is(result.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want ErrContextCanceled", result.Err)
	}
	if result.Attempts < 2 {
		t.Errorf("Attempts = %d, want >= 2", result.Attempts)
	}
	if result.LastError == nil {
		t.Error("LastError = nil, want the final attempt's error")
	}
}

func TestRetrier_Do_ContextTimeout(t *testing.T) {
	config := &Config{
		MaxRetries:      10,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		JitterFactor:    0,
	}
	retrier := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := retrier.Do(ctx, func(ctx context.Context) error {
		return errors.New("error")
	})

	if !errors.Is(result.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want ErrContextCanceled", result.Err)
	}
}

func TestRetrier_DoWithCallback(t *testing.T) {
	retrier := New(fastConfig(3))

	attempts := 0
	callbackCalls := 0
	result := retrier.DoWithCallback(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("error")
		}
		return nil
	}, func(attempt int, err error, nextInterval time.Duration) {
		callbackCalls++
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	// Before retry 2 and retry 3
	if callbackCalls != 2 {
		t.Errorf("Callback called %d times, want 2", callbackCalls)
	}
}

func TestBackoffInterval_GrowthAndCap(t *testing.T) {
	retrier := New(&Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0,
	})

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := retrier.backoffInterval(tt.attempt); got != tt.expected {
			t.Errorf("backoffInterval(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestBackoffInterval_JitterBounds(t *testing.T) {
	retrier := New(&Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	})

	minExpected := time.Duration(float64(time.Second) * 0.9)
	maxExpected := time.Duration(float64(time.Second) * 1.1)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		interval := retrier.backoffInterval(0)
		seen[interval] = true
		if interval < minExpected || interval > maxExpected {
			t.Errorf("backoffInterval(0) = %v, want between %v and %v", interval, minExpected, maxExpected)
		}
	}

	if len(seen) < 3 {
		t.Errorf("expected jitter to vary the interval, got %d unique values", len(seen))
	}
}

func TestPermanent_WrapsAndUnwraps(t *testing.T) {
	err := errors.New("test error")
	permErr := Permanent(err)

	var pe *PermanentError
	if !errors.As(permErr, &pe) {
		t.Fatal("Permanent error should be a *PermanentError")
	}
	if pe.Error() != err.Error() {
		t.Errorf("Error() = %v, want %v", pe.Error(), err.Error())
	}
	if !errors.Is(permErr, err) {
		t.Error("Permanent should unwrap to the original error")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should return nil")
	}
}

func TestRetrier_NoRetries(t *testing.T) {
	retrier := New(fastConfig(0))

	attempts := 0
	result := retrier.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("error")
	})

	if !errors.Is(result.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", result.Err)
	}
	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("Attempts = %d (op called %d), want 1", result.Attempts, attempts)
	}
}

func TestResult_TotalDurationIncludesWaits(t *testing.T) {
	retrier := New(&Config{
		MaxRetries:      2,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0,
	})

	attempts := 0
	result := retrier.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("error")
		}
		return nil
	})

	if result.TotalDuration < 100*time.Millisecond {
		t.Errorf("TotalDuration = %v, want >= 100ms", result.TotalDuration)
	}
}
