package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-pharmacy/config"
	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.ProductRecord
	closed      bool
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(records []*models.ProductRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.ProductRecord, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) written() []*models.ProductRecord {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []*models.ProductRecord
	for _, batch := range mw.batches {
		out = append(out, batch...)
	}
	return out
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(records []*models.ProductRecord) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

func product(i int) *models.ProductRecord {
	return &models.ProductRecord{
		SKU:            strconv.Itoa(i),
		CommercialName: "Producto " + strconv.Itoa(i),
		URL:            "https://shop.test/producto/" + strconv.Itoa(i),
		ExtractedAt:    "2025-11-04T13:09:13Z",
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	valid := product(1)
	missingURL := product(2)
	missingURL.URL = ""
	duplicate := product(1)

	accepted, err := p.Process([]*models.ProductRecord{valid, missingURL, duplicate, nil})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(writer.written()); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["missing_url"] == 0 {
		t.Fatalf("expected missing_url validation error")
	}
	if validation["duplicate_url"] == 0 {
		t.Fatalf("expected duplicate_url validation error")
	}
	if processed := metrics["processed_records"].(int64); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestPipelinePreservesOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 3
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()
	p.Start()

	for i := 0; i < 50; i++ {
		if _, err := p.Process([]*models.ProductRecord{product(i)}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	written := writer.written()
	if len(written) != 50 {
		t.Fatalf("written records = %d, want 50", len(written))
	}
	for i, rec := range written {
		if rec.SKU != strconv.Itoa(i) {
			t.Fatalf("record %d has sku %s, want %d", i, rec.SKU, i)
		}
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	for i := 0; i < 65; i++ {
		if _, err := p.Process([]*models.ProductRecord{product(i)}); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineDedupeIsBounded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DedupeCacheSize = 2
	cfg.BatchSize = 1
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	// product(0) is evicted by the time it is seen again.
	records := []*models.ProductRecord{product(0), product(1), product(2), product(0)}
	if _, err := p.Process(records); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(writer.written()); got != 4 {
		t.Fatalf("written records = %d, want 4", got)
	}
}

func TestPipelineWriterErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	writer := &mockWriter{writeErr: errors.New("disk full")}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if _, err := p.Process([]*models.ProductRecord{product(1)}); err != nil {
		t.Fatalf("first process: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for p.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := p.Process([]*models.ProductRecord{product(2)}); err == nil {
		t.Fatalf("expected process to fail after writer error")
	}
	if err := p.Close(); err == nil {
		t.Fatalf("expected close to report writer error")
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Process([]*models.ProductRecord{product(1)}); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if _, err := p.Process([]*models.ProductRecord{product(1)}); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
