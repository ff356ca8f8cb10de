package llama_test

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TowsifAhamed/LlamaPanama/llama"
	"github.com/TowsifAhamed/LlamaPanama/llama/llamatest"
)

func loadFake(t *testing.T, engine llama.Engine) (*llama.Model, *llama.Context) {
	t.Helper()
	model, err := llama.LoadModelFromFile("fake.gguf", llama.ModelParams{Engine: engine})
	require.NoError(t, err)
	ctx, err := llama.NewContextWithModel(model, llama.NewContextParams(64, 2))
	require.NoError(t, err)
	return model, ctx
}

func TestReleaseIsIdempotent(t *testing.T) {
	engine := llamatest.New(nil, nil)
	model, ctx := loadFake(t, engine)

	ctx.Release()
	ctx.Release()
	model.Release()
	model.Release()

	assert.Equal(t, 1, engine.Calls("free_context"))
	assert.Equal(t, 1, engine.Calls("free_model"))
	assert.True(t, ctx.Released())
	assert.True(t, model.Released())
}

// collectUntil laeuft GC bis cond erfuellt ist oder die Zeit abgelaufen ist
func collectUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("finalizer wurde nicht ausgefuehrt")
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
}

func TestAbandonedHandlesAreReleased(t *testing.T) {
	engine := llamatest.New(nil, nil)
	func() {
		_, _ = loadFake(t, engine)
	}()

	collectUntil(t, func() bool {
		return engine.Calls("free_context") == 1 && engine.Calls("free_model") == 1
	})

	for range 3 {
		runtime.GC()
	}
	assert.Equal(t, 1, engine.Calls("free_context"))
	assert.Equal(t, 1, engine.Calls("free_model"))
}

func TestReleasedHandlesAreNotFreedAgainByGC(t *testing.T) {
	engine := llamatest.New(nil, nil)
	func() {
		model, ctx := loadFake(t, engine)
		ctx.Release()
		model.Release()
	}()

	// ein weiteres abgebrochenes Paar zeigt, dass die Finalizer gelaufen sind
	func() {
		_, _ = loadFake(t, engine)
	}()
	collectUntil(t, func() bool {
		return engine.Calls("free_context") == 2 && engine.Calls("free_model") == 2
	})

	for range 3 {
		runtime.GC()
	}
	assert.Equal(t, 2, engine.Calls("free_context"), "erwartet genau eine Freigabe pro Context")
	assert.Equal(t, 2, engine.Calls("free_model"), "erwartet genau eine Freigabe pro Model")
}

func TestConcurrentRelease(t *testing.T) {
	engine := llamatest.New(nil, nil)
	model, ctx := loadFake(t, engine)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx.Release()
		}()
	}
	wg.Wait()
	model.Release()

	assert.Equal(t, 1, engine.Calls("free_context"))
}

func TestUseAfterRelease(t *testing.T) {
	engine := llamatest.New([]int32{1}, map[int32]string{1: "Hi"})
	model, ctx := loadFake(t, engine)
	params := llama.DefaultSamplerParams()
	state := llama.NewSamplerState(params)

	ctx.Release()

	cases := []struct {
		name string
		call func() error
	}{
		{"tokenize", func() error { _, err := ctx.Tokenize("Hi", true); return err }},
		{"eval", func() error { return ctx.Eval([]int32{3}) }},
		{"sample", func() error { _, err := ctx.Sample(params, state); return err }},
		{"token_to_piece", func() error { _, err := ctx.TokenToPiece(1); return err }},
		{"stats", func() error { _, err := ctx.LastStats(); return err }},
		{"embeddings", func() error { _, err := ctx.Embeddings(); return err }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var invalid *llama.InvalidStateError
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, err.Error(), "already closed")
			assert.Zero(t, engine.Calls(tt.name), "native layer darf nicht erreicht werden")
		})
	}

	model.Release()
	_, err := model.Tokenize("Hi", true, 8)
	var invalid *llama.InvalidStateError
	assert.ErrorAs(t, err, &invalid)

	_, err = llama.NewContextWithModel(model, llama.NewContextParams(8, 1))
	assert.ErrorAs(t, err, &invalid)
}

func TestLoadErrors(t *testing.T) {
	engine := llamatest.New(nil, nil)
	engine.Fail = map[string]error{"model_load": errors.New("bad magic")}

	_, err := llama.LoadModelFromFile("broken.gguf", llama.ModelParams{Engine: engine})
	var loadErr *llama.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "broken.gguf", loadErr.Path)

	var native *llama.NativeCallError
	require.ErrorAs(t, err, &native)
	assert.Equal(t, "bad magic", native.Message)

	engine = llamatest.New(nil, nil)
	engine.Fail = map[string]error{"backend_init": errors.New("no backend")}
	_, err = llama.LoadModelFromFile("model.gguf", llama.ModelParams{Engine: engine})
	assert.ErrorAs(t, err, &loadErr)
	assert.Zero(t, engine.Calls("model_load"))

	_, err = llama.LoadModelFromFile("", llama.ModelParams{Engine: engine})
	assert.ErrorAs(t, err, &loadErr)
}

func TestContextParams(t *testing.T) {
	engine := llamatest.New(nil, nil)
	model, ctx := loadFake(t, engine)
	t.Cleanup(model.Release)
	t.Cleanup(ctx.Release)

	assert.Equal(t, 64, ctx.NumCtx())
	assert.Equal(t, 2, ctx.NumThreads())
	assert.Same(t, model, ctx.Model())

	assert.Equal(t, runtime.NumCPU(), llama.NewContextParams(64, 0).Threads)
}

func TestBackendInitUsesDefaultEngine(t *testing.T) {
	prev := llama.DefaultEngine()
	t.Cleanup(func() { llama.SetDefaultEngine(prev) })

	engine := llamatest.New(nil, nil)
	llama.SetDefaultEngine(engine)
	require.NoError(t, llama.BackendInit())
	assert.Equal(t, 1, engine.Calls("backend_init"))

	engine.Fail = map[string]error{"backend_init": errors.New("no backend")}
	var loadErr *llama.LoadError
	assert.ErrorAs(t, llama.BackendInit(), &loadErr)
}

func TestSampleThreadsCursor(t *testing.T) {
	engine := llamatest.New([]int32{1, 1, 1}, map[int32]string{1: "a"})
	model, ctx := loadFake(t, engine)
	defer model.Release()
	defer ctx.Release()

	params := llama.DefaultSamplerParams().WithGrammar("root ::= \"a\"")
	state := llama.NewSamplerState(params)
	require.NoError(t, ctx.Eval([]int32{3}))

	for i := range 3 {
		_, err := ctx.Sample(params, state)
		require.NoError(t, err)
		assert.Equal(t, i, engine.LastSampleRequest().Position)
	}
	assert.Equal(t, 3, state.NextPosition())
	assert.Equal(t, "root ::= \"a\"", engine.LastSampleRequest().Grammar)

	state.Reset()
	assert.Zero(t, state.NextPosition())
}

func TestLastStatsCachedUntilEval(t *testing.T) {
	engine := llamatest.New([]int32{1}, map[int32]string{1: "a"})
	model, ctx := loadFake(t, engine)
	defer model.Release()
	defer ctx.Release()

	require.NoError(t, ctx.Eval([]int32{3}))
	_, err := ctx.LastStats()
	require.NoError(t, err)
	_, err = ctx.LastStats()
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Calls("stats"))

	require.NoError(t, ctx.Eval([]int32{3}))
	_, err = ctx.LastStats()
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Calls("stats"))
}

func TestEmbeddingsConcurrent(t *testing.T) {
	engine := llamatest.New(nil, nil)
	model, ctx := loadFake(t, engine)
	defer model.Release()
	defer ctx.Release()

	emb, err := ctx.Embeddings()
	require.NoError(t, err)
	assert.Equal(t, 4, emb.Dim())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := string(make([]byte, i))
			v, err := emb.Compute(text)
			assert.NoError(t, err)
			assert.Equal(t, []float32{float32(i), float32(i + 1), float32(i + 2), float32(i + 3)}, v)
		}()
	}
	wg.Wait()
}
