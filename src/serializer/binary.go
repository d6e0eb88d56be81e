package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// BinarySerializer - the compact wire codec. Fixed field order per event type,
// big-endian integers, IEEE 754 floats, uint16-length-prefixed strings.
//
// Header: magic "QP" | schema version (uint8) | event type tag (uint8).
// -----------------------------------------------------------------------------

type BinarySerializer struct{}

var binaryMagic = [2]byte{'Q', 'P'}

const (
	tagCandle uint8 = iota + 1
	tagFetchStatus
	tagMarketBreadth
	tagTrendState
)

func binaryTag(eventType models.EventType) (uint8, error) {
	switch eventType {
	case models.EventTypeCandle:
		return tagCandle, nil
	case models.EventTypeFetchStatus:
		return tagFetchStatus, nil
	case models.EventTypeMarketBreadth:
		return tagMarketBreadth, nil
	case models.EventTypeTrendState:
		return tagTrendState, nil
	default:
		return 0, helpers.NewSerializationError(fmt.Sprintf("unsupported event type %s", eventType), nil)
	}
}

func binaryEventType(tag uint8) (models.EventType, error) {
	switch tag {
	case tagCandle:
		return models.EventTypeCandle, nil
	case tagFetchStatus:
		return models.EventTypeFetchStatus, nil
	case tagMarketBreadth:
		return models.EventTypeMarketBreadth, nil
	case tagTrendState:
		return models.EventTypeTrendState, nil
	default:
		return "", helpers.NewSerializationError(fmt.Sprintf("unknown event tag %d", tag), nil)
	}
}

// -----------------------------------------------------------------------------

func (s *BinarySerializer) Name() string {
	return "binary"
}

// -----------------------------------------------------------------------------

func (s *BinarySerializer) Serialize(event interface{}) ([]byte, error) {
	eventType, err := eventTypeOf(event)
	if err != nil {
		return nil, err
	}
	tag, err := binaryTag(eventType)
	if err != nil {
		return nil, err
	}

	w := &binWriter{}
	w.buf.Write(binaryMagic[:])
	w.buf.WriteByte(uint8(models.CurrentSchemaVersion))
	w.buf.WriteByte(tag)

	switch e := event.(type) {
	case *models.MCandleEvent:
		w.writeString(e.Symbol)
		w.writeI64(e.Timestamp)
		w.writeF64(e.Open)
		w.writeF64(e.High)
		w.writeF64(e.Low)
		w.writeF64(e.Close)
		w.writeI64(e.Volume)
		w.writeString(e.Source)
		w.writeI64(e.FetchedAt)
		w.writeI64(e.LatencyMs)
	case *models.MFetchStatusEvent:
		w.writeString(e.PublisherID)
		w.writeI64(e.CycleTimestamp)
		w.writeString(string(e.Status))
		w.writeI32(int32(e.SymbolsSucceeded))
		w.writeI32(int32(e.SymbolsFailed))
		w.writeStrings(e.FailedSymbols)
		w.writeI64(e.CycleDurationMs)
		w.writeF64(e.UptimeSeconds)
		w.writeI64(e.EventsPublished)
	case *models.MMarketBreadthEvent:
		w.writeString(e.UniverseID)
		w.writeI64(e.Timestamp)
		w.writeI32(int32(e.Advances))
		w.writeI32(int32(e.Declines))
		w.writeI32(int32(e.Unchanged))
		w.writeI32(int32(e.TotalSymbols))
		w.writeF64(e.AdvanceDeclineRatio)
		w.writeF64(e.SentimentScore)
		w.writeI32(int32(e.NewHighs))
		w.writeI32(int32(e.NewLows))
	case *models.MTrendStateEvent:
		w.writeString(e.Symbol)
		w.writeI64(e.Timestamp)
		w.writeF64(e.ShortMA)
		w.writeF64(e.LongMA)
		w.writeString(string(e.Direction))
		w.writeF64(e.CurrentPrice)
	}

	return w.buf.Bytes(), nil
}

// -----------------------------------------------------------------------------

func (s *BinarySerializer) Deserialize(data []byte, expected models.EventType) (interface{}, error) {
	if len(data) < 4 || data[0] != binaryMagic[0] || data[1] != binaryMagic[1] {
		return nil, helpers.NewSerializationError("malformed binary payload: bad header", nil)
	}

	version := int(data[2])
	eventType, err := binaryEventType(data[3])
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(eventType, version, expected); err != nil {
		return nil, err
	}

	r := &binReader{data: data[4:]}

	switch eventType {
	case models.EventTypeCandle:
		e := &models.MCandleEvent{SchemaVersion: version}
		e.Symbol = r.readString()
		e.Timestamp = r.readI64()
		e.Open = r.readF64()
		e.High = r.readF64()
		e.Low = r.readF64()
		e.Close = r.readF64()
		e.Volume = r.readI64()
		e.Source = r.readString()
		e.FetchedAt = r.readI64()
		e.LatencyMs = r.readI64()
		return e, r.err()
	case models.EventTypeFetchStatus:
		e := &models.MFetchStatusEvent{SchemaVersion: version}
		e.PublisherID = r.readString()
		e.CycleTimestamp = r.readI64()
		e.Status = models.FetchStatus(r.readString())
		e.SymbolsSucceeded = int(r.readI32())
		e.SymbolsFailed = int(r.readI32())
		e.FailedSymbols = r.readStrings()
		e.CycleDurationMs = r.readI64()
		e.UptimeSeconds = r.readF64()
		e.EventsPublished = r.readI64()
		return e, r.err()
	case models.EventTypeMarketBreadth:
		e := &models.MMarketBreadthEvent{SchemaVersion: version}
		e.UniverseID = r.readString()
		e.Timestamp = r.readI64()
		e.Advances = int(r.readI32())
		e.Declines = int(r.readI32())
		e.Unchanged = int(r.readI32())
		e.TotalSymbols = int(r.readI32())
		e.AdvanceDeclineRatio = r.readF64()
		e.SentimentScore = r.readF64()
		e.NewHighs = int(r.readI32())
		e.NewLows = int(r.readI32())
		return e, r.err()
	case models.EventTypeTrendState:
		e := &models.MTrendStateEvent{SchemaVersion: version}
		e.Symbol = r.readString()
		e.Timestamp = r.readI64()
		e.ShortMA = r.readF64()
		e.LongMA = r.readF64()
		e.Direction = models.TrendDirection(r.readString())
		e.CurrentPrice = r.readF64()
		return e, r.err()
	}

	return nil, helpers.NewSerializationError(fmt.Sprintf("unsupported event type %s", eventType), nil)
}

// -----------------------------------------------------------------------------
// Write Helpers
// -----------------------------------------------------------------------------

type binWriter struct {
	buf bytes.Buffer
}

func (w *binWriter) writeI64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *binWriter) writeI32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *binWriter) writeF64(v float64) {
	w.writeI64(int64(math.Float64bits(v)))
}

func (w *binWriter) writeString(s string) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	w.buf.Write(b[:])
	w.buf.WriteString(s)
}

func (w *binWriter) writeStrings(list []string) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(list)))
	w.buf.Write(b[:])
	for _, s := range list {
		w.writeString(s)
	}
}

// -----------------------------------------------------------------------------
// Read Helpers
// -----------------------------------------------------------------------------

// binReader accumulates the first truncation error instead of forcing an
// error check per field.
type binReader struct {
	data    []byte
	pos     int
	readErr error
}

func (r *binReader) take(n int) []byte {
	if r.readErr != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.readErr = helpers.NewSerializationError("malformed binary payload: truncated", nil)
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *binReader) readI64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *binReader) readI32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *binReader) readF64() float64 {
	return math.Float64frombits(uint64(r.readI64()))
}

func (r *binReader) readString() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	n := int(binary.BigEndian.Uint16(b))
	s := r.take(n)
	if s == nil {
		return ""
	}
	return string(s)
}

func (r *binReader) readStrings() []string {
	b := r.take(2)
	if b == nil {
		return nil
	}
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 {
		return nil
	}
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, r.readString())
	}
	return list
}

func (r *binReader) err() error {
	return r.readErr
}
