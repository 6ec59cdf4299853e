package archive

import (
	"context"
	"log"
	"sync"

	"luna.social/internal/protocol"
	"luna.social/internal/stream"
)

// Archiver drains every broker channel into one compressed event log.
type Archiver struct {
	w      *Writer
	broker *stream.Broker
	logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewArchiver(baseDir string, b *stream.Broker, logger *log.Logger) *Archiver {
	return &Archiver{
		w:      NewWriter(baseDir, "events"),
		broker: b,
		logger: logger,
	}
}

// Start subscribes to every channel and writes events until Close.
func (a *Archiver) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	for _, ch := range protocol.Channels {
		sub, err := a.broker.Subscribe(ch, false)
		if err != nil {
			return err
		}
		a.wg.Add(1)
		go a.drain(ctx, sub)
	}
	return nil
}

func (a *Archiver) drain(ctx context.Context, sub *stream.Subscription) {
	defer a.wg.Done()
	defer a.broker.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is already queued before exiting.
			for {
				select {
				case ev, ok := <-sub.C:
					if !ok {
						return
					}
					if err := a.w.Write(ev); err != nil {
						a.logger.Printf("archive %s: %v", sub.Channel, err)
					}
				default:
					return
				}
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := a.w.Write(ev); err != nil {
				a.logger.Printf("archive %s: %v", sub.Channel, err)
			}
		}
	}
}

func (a *Archiver) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return a.w.Close()
}
