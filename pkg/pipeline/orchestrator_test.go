package pipeline

import (
	"testing"

	"github.com/m0w0kuma/rofl/pkg/replay"
)

func TestBatchPayloads(t *testing.T) {
	items := make([]replay.TimestampedPayload, 250)
	batches := batchPayloads(items, 100)
	if len(batches) != 3 {
		t.Fatalf("len(batches) = %d, want 3", len(batches))
	}
	if len(batches[0]) != 100 || len(batches[1]) != 100 || len(batches[2]) != 50 {
		t.Fatalf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestBatchPayloadsEmpty(t *testing.T) {
	if batches := batchPayloads(nil, 100); batches != nil {
		t.Fatalf("expected nil batches for empty input, got %v", batches)
	}
}
