package tokens

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recarr/internal/recerr"
)

func fixedToken(value string, ttl time.Duration) Token {
	return Token{Value: value, ExpiresAt: time.Now().Add(ttl)}
}

func TestManager_CachesAcrossCalls(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (Token, error) {
		calls.Add(1)
		return fixedToken("tok-1", time.Hour), nil
	}

	tok, err := m.Get(ctx, "meethub/ops", fetch)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)

	tok, err = m.Get(ctx, "meethub/ops", fetch)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_RefreshBufferForcesRefetch(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (Token, error) {
		n := calls.Add(1)
		if n == 1 {
			// Expires inside the 60s refresh buffer: usable never.
			return fixedToken("short", 30*time.Second), nil
		}
		return fixedToken("long", time.Hour), nil
	}

	tok, err := m.Get(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "short", tok.Value)

	// The short token is already inside the buffer, so the next read
	// fetches again.
	tok, err = m.Get(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "long", tok.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_ConcurrentReadersShareOneFetch(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (Token, error) {
		calls.Add(1)
		<-release
		return fixedToken("shared", time.Hour), nil
	}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]Token, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Get(ctx, "k", fetch)
		}(i)
	}

	// Give every reader time to queue on the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Value)
	}
	assert.Equal(t, int32(1), calls.Load(), "stampede collapses into one outbound fetch")
}

func TestManager_AuthErrorsNeverRetry(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (Token, error) {
		calls.Add(1)
		return Token{}, recerr.New(recerr.KindAuthExpired, "provider returned 401")
	}

	_, err := m.Get(ctx, "k", fetch)
	require.Error(t, err)
	assert.True(t, recerr.Is(err, recerr.KindAuthExpired))
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_KeysAreIndependent(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	a := func(context.Context) (Token, error) { return fixedToken("a", time.Hour), nil }
	b := func(context.Context) (Token, error) { return fixedToken("b", time.Hour), nil }

	tokA, err := m.Get(ctx, "meethub/a", a)
	require.NoError(t, err)
	tokB, err := m.Get(ctx, "meethub/b", b)
	require.NoError(t, err)
	assert.Equal(t, "a", tokA.Value)
	assert.Equal(t, "b", tokB.Value)
}

func TestManager_Invalidate(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (Token, error) {
		calls.Add(1)
		return fixedToken("tok", time.Hour), nil
	}

	_, err := m.Get(ctx, "k", fetch)
	require.NoError(t, err)
	m.Invalidate("k")
	_, err = m.Get(ctx, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
