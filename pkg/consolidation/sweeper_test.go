package consolidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram-go/pkg/consolidation"
)

func TestSweepRunsConsolidation(t *testing.T) {
	store := newFakeRecordStore()
	ctx := context.Background()

	a := record(1, "duplicate entry about the offsite", 5)
	b := record(2, "duplicate entry about the offsite", 4)
	require.NoError(t, store.InsertRecord(ctx, a))
	require.NoError(t, store.InsertRecord(ctx, b))

	engine := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	sweeper := consolidation.NewSweeper(engine, store, nil, nil, time.Hour, nil)

	sweeper.Sweep(ctx)

	records, err := store.QueryRecords(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSweeperStartStop(t *testing.T) {
	store := newFakeRecordStore()
	engine := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	sweeper := consolidation.NewSweeper(engine, store, nil, nil, time.Hour, nil)

	sweeper.Start(context.Background())
	sweeper.Start(context.Background()) // second Start is a no-op
	sweeper.Stop()
	sweeper.Stop() // second Stop is a no-op

	// The sweeper can be restarted after a stop.
	sweeper.Start(context.Background())
	sweeper.Stop()
}

func TestSweeperSurvivesFailingStore(t *testing.T) {
	store := &failingStore{}
	engine := consolidation.NewEngine(store, nil, &counterIDs{}, nil)
	sweeper := consolidation.NewSweeper(engine, store, nil, nil, time.Hour, nil)

	// A failing pass is logged, not fatal.
	sweeper.Sweep(context.Background())
}
