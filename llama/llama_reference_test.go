package llama

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceEngineTokenize(t *testing.T) {
	e := NewReferenceEngine()
	cases := []struct {
		text   string
		addBOS bool
		want   []int32
	}{
		{"Hello world", true, []int32{3, 1, 2}},
		{"Hello, worldwide tokens", false, []int32{1, 2, 4}},
		{"", true, []int32{3}},
		{"a  b", false, []int32{4, 4}},
	}
	for _, tt := range cases {
		t.Run(tt.text, func(t *testing.T) {
			got, err := e.Tokenize(1, tt.text, tt.addBOS, 16)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize mismatch (-erwartet +erhalten):\n%s", diff)
			}
		})
	}

	got, err := e.Tokenize(1, "a b c d", true, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReferenceEngineSampleCycle(t *testing.T) {
	e := NewReferenceEngine()
	m, err := e.LoadModel("m", 0)
	require.NoError(t, err)
	c, err := e.NewContext(m, 16, 1)
	require.NoError(t, err)
	require.NoError(t, e.Eval(c, []int32{3}))

	// seed 42 -> 42 % 3 == 0 -> 2, 5, 0
	pos := 0
	var got []int32
	for range 3 {
		res, err := e.Sample(c, SampleRequest{Seed: 42, Position: pos})
		require.NoError(t, err)
		got = append(got, res.Token)
		pos = res.Position
	}
	assert.Equal(t, []int32{2, 5, 0}, got)

	stats, err := e.Stats(c)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TokensEmitted)
	assert.LessOrEqual(t, stats.FirstTokenMs, stats.TotalMs)
}

func TestReferenceEngineStatsClock(t *testing.T) {
	e := NewReferenceEngine()
	now := time.Unix(0, 0)
	e.now = func() time.Time { return now }

	m, _ := e.LoadModel("m", 0)
	c, _ := e.NewContext(m, 16, 1)
	require.NoError(t, e.Eval(c, nil))

	now = now.Add(10 * time.Millisecond)
	_, err := e.Sample(c, SampleRequest{Seed: 0})
	require.NoError(t, err)
	now = now.Add(90 * time.Millisecond)

	stats, err := e.Stats(c)
	require.NoError(t, err)
	assert.InDelta(t, 10, stats.FirstTokenMs, 1e-9)
	assert.InDelta(t, 100, stats.TotalMs, 1e-9)
	assert.InDelta(t, 10, stats.TokensPerSecond, 1e-9)
}

func TestReferenceEngineEmbeddings(t *testing.T) {
	e := NewReferenceEngine()
	m, _ := e.LoadModel("m", 0)
	c, _ := e.NewContext(m, 16, 1)

	out := make([]float32, referenceEmbedDim)
	n, err := e.Embeddings(c, "Hello", out)
	require.NoError(t, err)
	assert.Equal(t, referenceEmbedDim, n)
	assert.InDelta(t, 5.0/7, out[0], 1e-6)
	assert.InDelta(t, 0, out[2], 1e-6)

	_, err = e.Embeddings(c, "Hello", make([]float32, 2))
	var native *NativeCallError
	assert.ErrorAs(t, err, &native)
}

func TestReferenceEngineFreeTwice(t *testing.T) {
	e := NewReferenceEngine()
	m, _ := e.LoadModel("m", 0)
	require.NoError(t, e.FreeModel(m))
	assert.Error(t, e.FreeModel(m))

	_, err := e.NewContext(m, 16, 1)
	assert.Error(t, err)
}

func TestSamplerParamsDerive(t *testing.T) {
	base := DefaultSamplerParams()
	seeded := base.WithSeed(7)
	grammar := base.WithGrammar("   ")

	assert.Equal(t, 42, base.Seed)
	assert.Equal(t, 7, seeded.Seed)
	assert.Empty(t, grammar.Grammar)
	assert.Equal(t, "root", base.WithGrammar("root").Grammar)
	assert.Equal(t, 128, base.MaxTokens)
	assert.Equal(t, 1, base.WithMaxTokens(1).MaxTokens)
}
