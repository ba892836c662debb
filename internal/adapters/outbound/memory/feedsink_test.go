package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
)

func TestFeedSink_StoresLatestValues(t *testing.T) {
	sink := NewFeedSink(0)
	ctx := context.Background()

	if sink.LatestBlock() != nil || sink.LatestPrice() != nil {
		t.Fatal("expected empty sink")
	}

	for i := uint64(1); i <= 3; i++ {
		if err := sink.PublishBlock(ctx, &entity.Block{Number: i, Hash: "0x"}); err != nil {
			t.Fatalf("PublishBlock failed: %v", err)
		}
	}
	price, _ := entity.NewPrice("ETH-USD", 3000, time.Now())
	if err := sink.PublishPrice(ctx, price); err != nil {
		t.Fatalf("PublishPrice failed: %v", err)
	}

	if got := sink.LatestBlock().Number; got != 3 {
		t.Errorf("latest block: got %d, want 3", got)
	}
	if got := sink.LatestPrice(); got != price {
		t.Errorf("latest price: got %+v, want %+v", got, price)
	}
	if got := len(sink.Blocks()); got != 3 {
		t.Errorf("block count: got %d, want 3", got)
	}
}

func TestFeedSink_BoundsHistory(t *testing.T) {
	sink := NewFeedSink(2)
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		sink.PublishBlock(ctx, &entity.Block{Number: i})
	}

	blocks := sink.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("block count: got %d, want 2", len(blocks))
	}
	if blocks[0].Number != 4 || blocks[1].Number != 5 {
		t.Errorf("got blocks %d,%d, want 4,5", blocks[0].Number, blocks[1].Number)
	}
}

func TestFeedSink_RejectsAfterClose(t *testing.T) {
	sink := NewFeedSink(0)
	sink.Close()

	err := sink.PublishBlock(context.Background(), &entity.Block{Number: 1})
	if !errors.Is(err, ErrSinkClosed) {
		t.Errorf("expected ErrSinkClosed, got %v", err)
	}
	if len(sink.Blocks()) != 0 {
		t.Error("expected no blocks after close")
	}
}

func TestFeedSink_RejectsNil(t *testing.T) {
	sink := NewFeedSink(0)
	if err := sink.PublishBlock(context.Background(), nil); err == nil {
		t.Error("expected error for nil block")
	}
	if err := sink.PublishPrice(context.Background(), nil); err == nil {
		t.Error("expected error for nil price")
	}
}

func TestFeedSink_OnPublish(t *testing.T) {
	sink := NewFeedSink(0)
	var published []any
	sink.OnPublish(func(v any) { published = append(published, v) })

	block := &entity.Block{Number: 9}
	sink.PublishBlock(context.Background(), block)
	sink.Clear()

	if len(published) != 1 || published[0] != block {
		t.Errorf("callback got %v, want [block]", published)
	}
	if sink.LatestBlock() != nil {
		t.Error("expected Clear to drop blocks")
	}
}
