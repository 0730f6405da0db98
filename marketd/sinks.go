package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/shopspring/decimal"

	"github.com/urbex-io/auctionhouse/core"
	"github.com/urbex-io/auctionhouse/receipts"
)

// engineEventsTopic carries every engine event; subscribers pick what
// they care about.
const engineEventsTopic = "engine.events"

// busSink bridges the engine's synchronous event emission onto the bus.
type busSink struct {
	bus EventBus.Bus
}

func (s busSink) Publish(evt core.Event) {
	s.bus.Publish(engineEventsTopic, evt)
}

// subscribeLogSink logs every engine event as a single JSON line.
func subscribeLogSink(bus EventBus.Bus) error {
	return bus.Subscribe(engineEventsTopic, func(evt core.Event) {
		payload, err := json.Marshal(evt)
		if err != nil {
			log.Printf("ERROR: Failed to encode %s event: %v", evt.EventName(), err)
			return
		}
		log.Printf("INFO: Event %s: %s", evt.EventName(), payload)
	})
}

// receiptWriter signs every settlement and appends the base64 encoded
// COSE_Sign1 receipt as one line to the receipt log.
type receiptWriter struct {
	signer *receipts.Signer

	mu   sync.Mutex
	file *os.File
}

func newReceiptWriter(signer *receipts.Signer, logPath string) (*receiptWriter, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open receipt log %s: %w", logPath, err)
	}
	return &receiptWriter{signer: signer, file: file}, nil
}

// subscribe registers asynchronously so signing never blocks settlement.
// Transactional keeps receipts in settlement order.
func (w *receiptWriter) subscribe(bus EventBus.Bus) error {
	return bus.SubscribeAsync(engineEventsTopic, w.onEvent, true)
}

func (w *receiptWriter) onEvent(evt core.Event) {
	ended, ok := evt.(core.AuctionEnded)
	if !ok {
		return
	}

	receipt := receipts.Receipt{
		ReceiptID:      ended.ID,
		Collection:     ended.Item.Collection,
		TokenID:        ended.Item.TokenID,
		Seller:         ended.Seller,
		Winner:         ended.Winner,
		Price:          ended.Price.String(),
		MetadataDigest: receipts.DigestMetadata(ended.Metadata),
		IssuedAt:       time.Now().Unix(),
	}

	signed, err := w.signer.Sign(receipt)
	if err != nil {
		log.Printf("ERROR: Failed to sign receipt for %s: %v", ended.Item, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.file, base64.StdEncoding.EncodeToString(signed)); err != nil {
		log.Printf("ERROR: Failed to append receipt for %s: %v", ended.Item, err)
	}
}

func (w *receiptWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// logPayout records withdrawals without moving funds; actual payment is
// handled by the operator's settlement pipeline reading the log.
type logPayout struct{}

func (logPayout) Pay(_ context.Context, to string, amount decimal.Decimal) error {
	log.Printf("INFO: Payout of %s released to %s", amount, to)
	return nil
}
