package dex

import (
	"reflect"
	"testing"
)

func TestPoolBatches(t *testing.T) {
	got := PoolBatches(7, 3)
	want := []IndexRange{
		{From: 0, To: 2},
		{From: 3, To: 5},
		{From: 6, To: 6},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}

	var total uint64
	for _, batch := range got {
		total += batch.Len()
	}
	if total != 7 {
		t.Fatalf("batches cover %d indexes, want 7", total)
	}
}

func TestPoolBatchesExact(t *testing.T) {
	got := PoolBatches(4, 2)
	want := []IndexRange{{From: 0, To: 1}, {From: 2, To: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}
}

func TestPoolBatchesEdges(t *testing.T) {
	if got := PoolBatches(0, 10); len(got) != 0 {
		t.Fatalf("empty factory produced batches: %+v", got)
	}

	want := []IndexRange{{From: 0, To: 4}}
	if got := PoolBatches(5, 0); !reflect.DeepEqual(got, want) {
		t.Fatalf("zero batch size: %+v != %+v", got, want)
	}
	if got := PoolBatches(5, 100); !reflect.DeepEqual(got, want) {
		t.Fatalf("oversized batch: %+v != %+v", got, want)
	}
}
