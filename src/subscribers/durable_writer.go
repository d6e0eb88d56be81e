package subscribers

import (
	"fmt"
	"sync"
	"time"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// DurableWriter buffers candle events and flushes them to the candle store
// when the buffer reaches flush_size or the flush interval elapses, whichever
// comes first. A failed flush keeps the rows buffered for the next attempt,
// and the idempotent upsert makes re-flushing the same rows harmless.
// -----------------------------------------------------------------------------

type DurableWriter struct {
	BaseSubscriber

	Store         interfaces.ICandleStore
	FlushSize     int
	FlushInterval time.Duration

	bufMu  sync.Mutex
	buffer []models.MCandleEvent

	flushStop chan struct{}
	flushWg   sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewDurableWriter(
	cfg models.MSubscriberConfig,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	dlq interfaces.IDeadLetterQueue,
	store interfaces.ICandleStore,
	log *logger.Logger,
) *DurableWriter {
	w := &DurableWriter{
		BaseSubscriber: newBaseSubscriber(
			cfg.Name,
			[]string{models.ChannelCandles},
			brk, ser, dlq, log,
		),
		Store:         store,
		FlushSize:     cfg.FlushSize,
		FlushInterval: time.Duration(cfg.FlushIntervalSeconds) * time.Second,
	}
	w.handle = w.handleEvent
	w.onStart = w.startFlushLoop
	w.onStop = w.stopFlushLoop
	return w
}

// -----------------------------------------------------------------------------

func (w *DurableWriter) handleEvent(event interface{}, channel string) error {
	candle, ok := event.(*models.MCandleEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", event, channel)
	}

	w.bufMu.Lock()
	w.buffer = append(w.buffer, *candle)
	full := len(w.buffer) >= w.FlushSize
	w.bufMu.Unlock()

	if full {
		w.flush()
	}
	return nil
}

// -----------------------------------------------------------------------------

// flush writes the current buffer to the store. Rows that fail stay buffered.
func (w *DurableWriter) flush() {
	w.bufMu.Lock()
	if len(w.buffer) == 0 {
		w.bufMu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = nil
	w.bufMu.Unlock()

	failed, err := w.Store.UpsertCandlesBulk(batch)
	if err != nil {
		// Whole batch failed: put everything back for the next attempt
		w.Logger.Error("DurableWriter %s: flush of %d rows failed: %v", w.SubName, len(batch), err)
		w.requeue(batch)
		return
	}
	if len(failed) > 0 {
		w.Logger.Warning("DurableWriter %s: %d/%d rows failed, retrying next flush", w.SubName, len(failed), len(batch))
		w.requeue(failed)
	}

	w.Logger.Debug("DurableWriter %s: flushed %d rows", w.SubName, len(batch)-len(failed))
}

// -----------------------------------------------------------------------------

func (w *DurableWriter) requeue(rows []models.MCandleEvent) {
	w.bufMu.Lock()
	w.buffer = append(rows, w.buffer...)
	w.bufMu.Unlock()
}

// -----------------------------------------------------------------------------

// BufferedCount reports how many rows await the next flush.
func (w *DurableWriter) BufferedCount() int {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()
	return len(w.buffer)
}

// -----------------------------------------------------------------------------
// Flush Loop
// -----------------------------------------------------------------------------

func (w *DurableWriter) startFlushLoop() error {
	w.flushStop = make(chan struct{})
	w.flushWg.Add(1)

	go func() {
		defer w.flushWg.Done()

		ticker := time.NewTicker(w.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.flushStop:
				return
			case <-ticker.C:
				w.flush()
			}
		}
	}()
	return nil
}

// -----------------------------------------------------------------------------

// stopFlushLoop stops the ticker and performs a final flush so buffered rows
// are not lost on shutdown.
func (w *DurableWriter) stopFlushLoop() error {
	close(w.flushStop)
	w.flushWg.Wait()
	w.flush()
	return nil
}
