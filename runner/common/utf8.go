// utf8.go - Inkrementeller UTF-8 Assembler fuer Token-Bytes
// Hauptfunktionen: NewAssembler, Feed, Flush
package common

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	pendingBufferBytes = 4096
	decodeChunkBytes   = 1024
)

// Assembler setzt Byte-Stuecke zu vollstaendigen Zeichen zusammen.
// Ungueltige Sequenzen werden durch U+FFFD ersetzt; eine unvollstaendige
// Sequenz am Ende bleibt fuer den naechsten Feed liegen.
type Assembler struct {
	decoder transform.Transformer
	pending []byte
	dst     []byte
}

func NewAssembler() *Assembler {
	return &Assembler{
		decoder: unicode.UTF8.NewDecoder(),
		pending: make([]byte, 0, pendingBufferBytes),
		dst:     make([]byte, decodeChunkBytes),
	}
}

// Feed haengt b an und gibt alle vollstaendig dekodierbaren Zeichen zurueck
func (a *Assembler) Feed(b []byte) string {
	if len(b) == 0 && len(a.pending) == 0 {
		return ""
	}
	a.pending = append(a.pending, b...)
	return a.decode(false)
}

// Flush dekodiert den Rest als Ende des Streams und setzt den Assembler zurueck
func (a *Assembler) Flush() string {
	s := a.decode(true)
	a.pending = a.pending[:0]
	a.decoder.Reset()
	return s
}

// Pending gibt die Anzahl noch nicht aufgeloester Bytes zurueck
func (a *Assembler) Pending() int {
	return len(a.pending)
}

func (a *Assembler) decode(atEOF bool) string {
	var sb strings.Builder
	src := a.pending
	for len(src) > 0 {
		nDst, nSrc, err := a.decoder.Transform(a.dst, src, atEOF)
		sb.Write(a.dst[:nDst])
		src = src[nSrc:]
		if err != transform.ErrShortDst {
			// nil oder ErrShortSrc: Rest wartet auf weitere Bytes
			break
		}
	}

	n := copy(a.pending, src)
	a.pending = a.pending[:n]
	return sb.String()
}
