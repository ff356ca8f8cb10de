package llamarunner

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/TowsifAhamed/LlamaPanama/llama"
	"github.com/TowsifAhamed/LlamaPanama/llama/llamatest"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

// decodeReference dekodiert alle Bytes in einem Durchgang
func decodeReference(b []byte) string {
	out, _, _ := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	return string(out)
}

type recorder struct {
	chunks []string
}

func (r *recorder) OnChunk(text string) {
	r.chunks = append(r.chunks, text)
}

func newTestSession(t *testing.T, engine llama.Engine, maxTokens int) *Session {
	t.Helper()
	model, err := llama.LoadModelFromFile("fake.gguf", llama.ModelParams{Engine: engine})
	require.NoError(t, err)
	t.Cleanup(model.Release)

	s, err := NewSession(model, llama.DefaultSamplerParams().WithMaxTokens(maxTokens), 64, 1)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStreamScenarios(t *testing.T) {
	cases := []struct {
		name      string
		samples   []int32
		pieces    map[int32]string
		maxTokens int
		want      []string
		state     StreamState
	}{
		{
			name:      "single token is delivered on exit",
			samples:   []int32{1},
			pieces:    map[int32]string{1: "Hi"},
			maxTokens: 1,
			want:      []string{"Hi"},
			state:     StateExhausted,
		},
		{
			name:      "sentence end flushes once",
			samples:   []int32{1, 2, 3},
			pieces:    map[int32]string{1: "Hello", 2: " world", 3: "."},
			maxTokens: 10,
			want:      []string{"Hello world."},
			state:     StateStopped,
		},
		{
			name:      "eos first",
			samples:   nil,
			maxTokens: 10,
			want:      nil,
			state:     StateStopped,
		},
		{
			name:      "first token punctuation does not flush",
			samples:   []int32{5, 1},
			pieces:    map[int32]string{5: "!", 1: "x"},
			maxTokens: 2,
			want:      []string{"!x"},
			state:     StateExhausted,
		},
		{
			name:      "size threshold",
			samples:   []int32{1, 1, 1},
			pieces:    map[int32]string{1: strings.Repeat("ab", 8)},
			maxTokens: 3,
			want:      []string{strings.Repeat("ab", 16), strings.Repeat("ab", 8)},
			state:     StateExhausted,
		},
		{
			name:      "character split across tokens",
			samples:   []int32{1, 2},
			pieces:    map[int32]string{1: "\xe2\x82", 2: "\xac."},
			maxTokens: 5,
			want:      []string{"€."},
			state:     StateStopped,
		},
		{
			name:      "incomplete tail is replaced on exit",
			samples:   []int32{1, 2},
			pieces:    map[int32]string{1: "ok", 2: "\xf0\x9f"},
			maxTokens: 2,
			want:      []string{"ok\uFFFD"},
			state:     StateExhausted,
		},
		{
			name:      "newline after first token flushes",
			samples:   []int32{1, 2, 1},
			pieces:    map[int32]string{1: "line", 2: "\n"},
			maxTokens: 3,
			want:      []string{"line\n", "line"},
			state:     StateExhausted,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			engine := llamatest.New(tt.samples, tt.pieces)
			s := newTestSession(t, engine, tt.maxTokens)

			var rec recorder
			state, err := s.Stream("prompt", &rec, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.state, state)
			assert.Equal(t, StateFinalized, s.State())
			if diff := cmp.Diff(tt.want, rec.chunks); diff != "" {
				t.Errorf("chunks mismatch (-erwartet +erhalten):\n%s", diff)
			}
		})
	}
}

func TestStreamEOSStats(t *testing.T) {
	engine := llamatest.New(nil, nil)
	s := newTestSession(t, engine, 8)

	state, err := s.Stream("prompt", ListenerFunc(func(string) { t.Error("kein Chunk erwartet") }), nil)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
	assert.Zero(t, s.LastStats().TokensEmitted)
	assert.Zero(t, engine.Calls("token_to_piece"))
}

func TestStreamStatsFreshness(t *testing.T) {
	engine := llamatest.New([]int32{1, 1, 1}, map[int32]string{1: "a"})
	s := newTestSession(t, engine, 5)

	_, err := s.Stream("prompt", &recorder{}, nil)
	require.NoError(t, err)

	stats := s.LastStats()
	assert.Equal(t, 3, stats.TokensEmitted)
	assert.LessOrEqual(t, stats.FirstTokenMs, stats.TotalMs)

	engine.Samples = []int32{1}
	_, err = s.Stream("prompt", &recorder{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.LastStats().TokensEmitted)
}

func TestStreamCancellation(t *testing.T) {
	samples := make([]int32, 100)
	for i := range samples {
		samples[i] = 1
	}
	engine := llamatest.New(samples, map[int32]string{1: "a"})
	s := newTestSession(t, engine, 100)

	cancel := NewCancellationToken()
	engine.OnSample = func(n int) {
		if n == 3 {
			cancel.Cancel()
		}
	}

	var rec recorder
	state, err := s.Stream("prompt", &rec, cancel)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, state)
	assert.Equal(t, 3, engine.Calls("sample"))
	assert.Equal(t, "aaa", strings.Join(rec.chunks, ""))
}

func TestStreamCancelledBeforeStart(t *testing.T) {
	engine := llamatest.New([]int32{1}, map[int32]string{1: "a"})
	s := newTestSession(t, engine, 10)

	cancel := NewCancellationToken()
	cancel.Cancel()

	state, err := s.Stream("prompt", &recorder{}, cancel)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, state)
	assert.Zero(t, engine.Calls("sample"))
}

func TestNoCancelIgnoresCancel(t *testing.T) {
	token := NoCancel()
	token.Cancel()
	assert.False(t, token.Cancelled())
}

func TestCancelOnDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token, stop := CancelOnDone(ctx)
	defer stop()

	assert.False(t, token.Cancelled())
	cancel()
	assert.Eventually(t, token.Cancelled, timeout, tick)
}

func TestStreamErrors(t *testing.T) {
	cases := []struct {
		op    string
		state StreamState
	}{
		{"tokenize", StateIdle},
		{"eval", StateIdle},
		{"sample", StateGenerating},
		{"token_to_piece", StateGenerating},
	}
	for _, tt := range cases {
		t.Run(tt.op, func(t *testing.T) {
			engine := llamatest.New([]int32{1, 1}, map[int32]string{1: "a."})
			engine.Fail = map[string]error{tt.op: errors.New("boom")}
			s := newTestSession(t, engine, 5)

			var rec recorder
			state, err := s.Stream("prompt", &rec, nil)
			var native *llama.NativeCallError
			require.ErrorAs(t, err, &native)
			assert.Equal(t, tt.op, native.Op)
			assert.Equal(t, "boom", native.Message)
			assert.Contains(t, err.Error(), "stream "+tt.op)
			assert.Equal(t, tt.state, state)
			assert.Empty(t, rec.chunks)
		})
	}
}

func TestSamplerCursorResetPerStream(t *testing.T) {
	engine := llamatest.New([]int32{1, 1}, map[int32]string{1: "a"})
	s := newTestSession(t, engine, 2)

	for range 2 {
		var positions []int
		engine.OnSample = func(int) {
			positions = append(positions, engine.LastSampleRequest().Position)
		}
		_, err := s.Stream("prompt", &recorder{}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, positions)
	}
}

func TestSessionClose(t *testing.T) {
	engine := llamatest.New([]int32{1}, map[int32]string{1: "a"})
	s := newTestSession(t, engine, 1)

	s.Close()
	s.Close()
	assert.Equal(t, 1, engine.Calls("free_context"))

	_, err := s.Stream("prompt", &recorder{}, nil)
	var invalid *llama.InvalidStateError
	assert.ErrorAs(t, err, &invalid)
	assert.Zero(t, engine.Calls("tokenize"))

	_, err = s.Embed("x")
	assert.ErrorAs(t, err, &invalid)
}

func TestGenerateWithReferenceEngine(t *testing.T) {
	s := newTestSession(t, llama.NewReferenceEngine(), 32)

	// seed 42 -> " world", "!", EOS
	out, err := s.Generate(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, " world!", out)

	stats := s.LastStats()
	assert.Equal(t, 2, stats.TokensEmitted)
	assert.LessOrEqual(t, stats.FirstTokenMs, stats.TotalMs)

	v, err := s.Embed("Hello")
	require.NoError(t, err)
	assert.Len(t, v, 8)
}

func TestStreamNeverLosesText(t *testing.T) {
	alphabet := []string{"a", "b.", " ", "ä", "€", "😀", "!", "\n", "xyz?", "\xff"}
	rng := rand.New(rand.NewSource(7))

	for range 50 {
		n := rng.Intn(40) + 1
		samples := make([]int32, n)
		pieces := map[int32]string{}
		var all []byte
		for i := range samples {
			tok := int32(i + 1)
			samples[i] = tok
			p := []byte(alphabet[rng.Intn(len(alphabet))])
			// Zeichen willkuerlich auf Tokens aufteilen
			if len(p) > 1 && rng.Intn(2) == 0 {
				p = p[:1]
			}
			pieces[tok] = string(p)
			all = append(all, p...)
		}

		engine := llamatest.New(samples, pieces)
		s := newTestSession(t, engine, n)

		var rec recorder
		_, err := s.Stream("prompt", &rec, nil)
		require.NoError(t, err)
		assert.Equal(t, decodeReference(all), strings.Join(rec.chunks, ""))
	}
}

func TestStateReadableDuringStream(t *testing.T) {
	engine := llamatest.New([]int32{1, 1}, map[int32]string{1: "a"})
	s := newTestSession(t, engine, 2)

	type snapshot struct {
		state StreamState
		stats llama.InferenceStats
	}
	seen := make(chan snapshot, 1)
	engine.OnSample = func(n int) {
		if n != 1 {
			return
		}
		done := make(chan snapshot, 1)
		go func() {
			done <- snapshot{state: s.State(), stats: s.LastStats()}
		}()
		select {
		case snap := <-done:
			seen <- snap
		case <-time.After(timeout):
			t.Error("State/LastStats blockieren waehrend eines Streams")
		}
	}

	_, err := s.Stream("Hello", ListenerFunc(func(string) {}), nil)
	require.NoError(t, err)

	select {
	case snap := <-seen:
		assert.Equal(t, StateGenerating, snap.state)
		assert.Zero(t, snap.stats.TokensEmitted)
	default:
		t.Fatal("kein Zustand waehrend des Streams gelesen")
	}
	assert.Equal(t, 2, s.LastStats().TokensEmitted)
}
