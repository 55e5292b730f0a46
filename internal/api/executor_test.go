package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/squadup/mobilecore/internal/credentials"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          time.Second,
		RetryAfterDefault: 50 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
	}
}

func newTestExecutor(t *testing.T, handler http.Handler) (*Executor, *credentials.MemoryStore) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	creds := credentials.NewMemoryStore()
	return NewExecutor(ts.URL, creds, testPolicy(), nil), creds
}

func TestExecute_Success_PassesThrough(t *testing.T) {
	var gotAuth, gotCT string
	e, creds := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))

	ctx := context.Background()
	require.NoError(t, creds.Set(ctx, credentials.Tokens{AccessToken: "A1"}))

	resp, err := e.Execute(ctx, Descriptor{
		Method: http.MethodPost,
		Path:   "/squads/1/messages",
		Body:   json.RawMessage(`{"text":"hi"}`),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, resp.Success())
	require.Equal(t, "Bearer A1", gotAuth)
	require.Equal(t, "application/json", gotCT)

	var body struct {
		ID int `json:"id"`
	}
	require.NoError(t, resp.Decode(&body))
	require.Equal(t, 42, body.ID)
}

func TestExecute_NoToken_CallIsUnauthenticated(t *testing.T) {
	var gotAuth string
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))

	_, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/feed"})
	require.NoError(t, err)
	require.Empty(t, gotAuth)
}

func TestExecute_401_RefreshAndRetryOnce(t *testing.T) {
	var refreshCalls, apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "R1", req["refresh_token"])
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "A2", "refresh_token": "R2", "user_id": "u-1",
		})
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	e, creds := newTestExecutor(t, mux)
	ctx := context.Background()
	require.NoError(t, creds.Set(ctx, credentials.Tokens{AccessToken: "A1", RefreshToken: "R1"}))

	resp, err := e.Execute(ctx, Descriptor{Method: http.MethodGet, Path: "/protected"})
	require.NoError(t, err)
	// caller never sees the intermediate 401
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	require.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))

	toks, err := creds.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "A2", toks.AccessToken)
	require.Equal(t, "R2", toks.RefreshToken)
}

func TestExecute_Concurrent401s_SingleRefresh(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		time.Sleep(100 * time.Millisecond) // widen the coalescing window
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "A2", "refresh_token": "R2", "user_id": "u-1",
		})
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	e, creds := newTestExecutor(t, mux)
	ctx := context.Background()
	require.NoError(t, creds.Set(ctx, credentials.Tokens{AccessToken: "A1", RefreshToken: "R1"}))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Execute(ctx, Descriptor{Method: http.MethodGet, Path: "/protected"})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls), "concurrent 401s must coalesce into one refresh")
}

func TestExecute_RefreshRejected_ClearsSessionAndFailsAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	e, creds := newTestExecutor(t, mux)
	ctx := context.Background()
	require.NoError(t, creds.Set(ctx, credentials.Tokens{AccessToken: "A1", RefreshToken: "R1"}))

	_, err := e.Execute(ctx, Descriptor{Method: http.MethodGet, Path: "/protected"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.ErrorIs(t, err, ErrSessionExpired)

	toks, gerr := creds.Get(ctx)
	require.NoError(t, gerr)
	require.Nil(t, toks, "session must be cleared after a rejected refresh")
}

func TestExecute_401WithoutRefreshToken_FailsAuth(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/protected"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestExecute_403_FailsImmediately(t *testing.T) {
	var calls int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/admin"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.True(t, authErr.Forbidden)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "403 must not be retried")
}

func TestExecute_400_ValidationErrorWithFields(t *testing.T) {
	var calls int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":{"text":["must not be empty"]}}`))
	}))

	_, err := e.Execute(context.Background(), Descriptor{
		Method: http.MethodPost,
		Path:   "/squads/1/messages",
		Body:   json.RawMessage(`{}`),
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"must not be empty"}, verr.Fields["text"])
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "400 must not be retried")
}

func TestExecute_429_WaitsRetryAfterThenSucceeds(t *testing.T) {
	var calls int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	start := time.Now()
	resp, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/feed"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, time.Since(start), time.Second, "must honor Retry-After")
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_429_DefaultWaitWhenHeaderAbsent(t *testing.T) {
	var calls int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	start := time.Now()
	_, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/feed"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestExecute_429_ContextEndsDuringWait_SurfacesRateLimited(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, Descriptor{Method: http.MethodGet, Path: "/feed"})

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, 30*time.Second, rle.RetryAfter)
}

func TestExecute_5xx_ExponentialBackoffThenServerError(t *testing.T) {
	var calls int32
	var stamps []time.Time
	var mu sync.Mutex
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/feed"})

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusInternalServerError, serr.StatusCode)
	require.Equal(t, 3, serr.Attempts)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls), "attempts must stop at the ceiling")

	// base*2^i spacing between attempts i and i+1 (scheduler tolerance: lower bound only)
	require.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 10*time.Millisecond)
	require.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 20*time.Millisecond)
}

func TestExecute_5xx_EventualSuccessIsTransparent(t *testing.T) {
	var calls int32
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/feed"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecute_NetworkFailure_RetriesThenNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // nothing is listening anymore

	e := NewExecutor(ts.URL, credentials.NewMemoryStore(), testPolicy(), nil)

	_, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/feed"})

	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, 3, nerr.Attempts)
}

func TestExecute_OtherStatus_ReturnedUnmodified(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such squad"}`))
	}))

	resp, err := e.Execute(context.Background(), Descriptor{Method: http.MethodGet, Path: "/squads/999"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.JSONEq(t, `{"error":"no such squad"}`, string(resp.Body))
}

func TestPing(t *testing.T) {
	e, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	require.NoError(t, e.Ping(context.Background()))
}
