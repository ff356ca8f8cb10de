// Package llamarunner - Kooperativer Abbruch
//
// Dieses Modul enthält:
// - CancellationToken: atomares Flag, einmal gesetzt nie zurueckgesetzt
// - NoCancel: Token, das nie abgebrochen wird
// - CancelOnDone: Bruecke von context.Context zu CancellationToken
package llamarunner

import (
	"context"
	"sync/atomic"
)

// CancellationToken wird von genau einem Schreiber gesetzt und von der
// Generierungsschleife einmal pro Iteration gelesen.
type CancellationToken struct {
	cancelled atomic.Bool
	noop      bool
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// NoCancel gibt ein Token zurueck, dessen Cancel wirkungslos ist
func NoCancel() *CancellationToken {
	return &CancellationToken{noop: true}
}

func (t *CancellationToken) Cancel() {
	if t.noop {
		return
	}
	t.cancelled.Store(true)
}

func (t *CancellationToken) Cancelled() bool {
	return t.cancelled.Load()
}

// CancelOnDone gibt ein Token zurueck, das abgebrochen wird sobald ctx endet.
// stop loest die Bindung an ctx.
func CancelOnDone(ctx context.Context) (token *CancellationToken, stop func()) {
	token = NewCancellationToken()
	unregister := context.AfterFunc(ctx, token.Cancel)
	return token, func() { unregister() }
}
