package frames

import (
	"sync"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindControl Kind = "control"
)

type ControlCode string

const (
	ControlEndOfStream ControlCode = "end_of_stream"
	ControlCancel      ControlCode = "cancel"
)

// Meta keys shared across components.
const (
	MetaSessionID = "session_id"
	MetaSource    = "source"
	MetaIsFinal   = "is_final"
	MetaErrorTag  = "error_tag"
)

type Frame interface {
	Kind() Kind
	Seq() uint64
	Meta() map[string]string
}

// AudioFrame carries one chunk of synthesized or captured PCM audio.
// Sequence numbers are monotone within a session; exactly one consumer
// drains a given frame.
type AudioFrame struct {
	seq    uint64
	data   []byte
	rate   int
	ch     int
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(sessionID string, seq uint64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		seq:  seq,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(sessionID, meta),
	}
}

func NewAudioFrameFromPool(sessionID string, seq uint64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		seq:    seq,
		data:   buf,
		rate:   rate,
		ch:     ch,
		meta:   mergeMeta(sessionID, meta),
		pooled: true,
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) Seq() uint64             { return a.seq }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }

func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		if ap, ok := f.(*AudioFrame); ok {
			af = *ap
		} else {
			return false
		}
	}
	if af.pooled {
		ReleaseAudioBuf(af.data)
		return true
	}
	return false
}

// TextFrame carries a transcript fragment from the capture layer.
type TextFrame struct {
	seq  uint64
	text string
	meta map[string]string
}

func NewTextFrame(sessionID string, seq uint64, text string, meta map[string]string) TextFrame {
	return TextFrame{
		seq:  seq,
		text: text,
		meta: mergeMeta(sessionID, meta),
	}
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) Seq() uint64             { return t.seq }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }

// ControlFrame signals stream lifecycle changes: end-of-stream, cancellation,
// barge-in interrupt.
type ControlFrame struct {
	seq  uint64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(sessionID string, seq uint64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		seq:  seq,
		code: code,
		meta: mergeMeta(sessionID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) Seq() uint64             { return c.seq }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }

// SeqGen hands out per-session monotone sequence numbers.
type SeqGen struct {
	mu    sync.Mutex
	value map[string]uint64
}

func NewSeqGen() *SeqGen {
	return &SeqGen{value: make(map[string]uint64)}
}

func (g *SeqGen) Next(sessionID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[sessionID] + 1
	g.value[sessionID] = v
	return v
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(sessionID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if sessionID != "" {
		out[MetaSessionID] = sessionID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
