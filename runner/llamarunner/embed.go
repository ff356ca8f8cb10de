// Package llamarunner - Embeddings mit Cache und Normalisierung
package llamarunner

import (
	"context"
	"slices"

	"github.com/jellydator/ttlcache/v3"
	"gonum.org/v1/gonum/floats"
)

// embed berechnet ein Embedding ueber einen freien Slot. Treffer im Cache
// belegen keinen Slot.
func (s *Server) embed(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if item := s.cache.Get(text); item != nil {
			s.metrics.embedCacheHits.WithLabelValues("hit").Inc()
			return slices.Clone(item.Value()), nil
		}
		s.metrics.embedCacheHits.WithLabelValues("miss").Inc()
	}

	sl, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(sl)

	v, err := sl.session.Embed(text)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(text, slices.Clone(v), ttlcache.DefaultTTL)
	}
	return v, nil
}

// normalize skaliert v auf L2-Norm 1; Nullvektoren bleiben unveraendert
func normalize(v []float32) []float32 {
	f := make([]float64, len(v))
	for i := range v {
		f[i] = float64(v[i])
	}

	norm := floats.Norm(f, 2)
	if norm == 0 {
		return v
	}
	floats.Scale(1/norm, f)

	out := make([]float32, len(v))
	for i := range f {
		out[i] = float32(f[i])
	}
	return out
}
