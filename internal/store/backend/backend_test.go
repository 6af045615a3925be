package backend

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/config"
)

func TestOpenMemory(t *testing.T) {
	b, err := Open(context.Background(), &config.Config{Indexer: config.IndexerConfig{Store: "memory"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Store.(*memory.Store); !ok {
		t.Errorf("store = %T", b.Store)
	}
	if b.Pinger != nil {
		t.Error("memory store should have no pinger")
	}
	if err := b.Close(); err != nil {
		t.Error(err)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{Indexer: config.IndexerConfig{Store: "bolt"}}); err == nil {
		t.Error("expected error")
	}
}
