package round

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) CurrentRoundID(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockReader) RoundData(ctx context.Context, roundID uint64) (*chain.RoundData, error) {
	args := m.Called(ctx, roundID)
	rd, _ := args.Get(0).(*chain.RoundData)
	return rd, args.Error(1)
}

func (m *mockReader) TicketSalesDurationSeconds(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockReader) CurrentTicketPriceNative(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	price, _ := args.Get(0).(*big.Int)
	return price, args.Error(1)
}

func (m *mockReader) LatestBlockTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func i64(v int64) *int64 { return &v }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestDerivePhase(t *testing.T) {
	base := Inputs{
		RoundID:                5,
		StartSnapshotSubmitted: true,
		StartTime:              i64(1000),
		SalesDurationSeconds:   3600,
		CurrentChainTime:       2000,
	}
	with := func(mut func(*Inputs)) Inputs {
		in := base
		mut(&in)
		return in
	}

	tests := []struct {
		name string
		in   Inputs
		want Phase
	}{
		{"sales open", base, PhaseSalesOpen},
		{"sales close boundary is inclusive", with(func(in *Inputs) { in.CurrentChainTime = 4600 }), PhaseSalesOpen},
		{"sales closed", with(func(in *Inputs) { in.CurrentChainTime = 5000 }), PhaseSalesClosed},
		{"no round", with(func(in *Inputs) { in.RoundID = 0; in.Aborted = true }), PhaseNoRound},
		{"pending start", with(func(in *Inputs) { in.StartSnapshotSubmitted = false; in.StartTime = nil }), PhasePendingStart},
		{"aborted before start", with(func(in *Inputs) { in.StartSnapshotSubmitted = false; in.Aborted = true }), PhaseAborted},
		{"aborted while open", with(func(in *Inputs) { in.Aborted = true }), PhaseAborted},
		{"evaluated", with(func(in *Inputs) { in.CurrentChainTime = 9000; in.EndSnapshotSubmitted = true; in.ResultsEvaluated = true }), PhaseEvaluated},
		{"end snapshot without evaluation", with(func(in *Inputs) { in.CurrentChainTime = 9000; in.EndSnapshotSubmitted = true }), PhaseSalesClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePhase(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, DerivePhase(tt.in), "derivation must be repeatable")
		})
	}
}

func TestSnapshotFromRoundData(t *testing.T) {
	outcomes := []bool{true, false, true, false, true, false, true, false, true, false}

	pending := SnapshotFromRoundData(&chain.RoundData{RoundID: 3, HighestScore: 4, ActualOutcomes: outcomes})
	assert.Nil(t, pending.StartTime)
	assert.Nil(t, pending.HighestScore)
	assert.Nil(t, pending.ActualOutcomes)

	evaluated := SnapshotFromRoundData(&chain.RoundData{
		RoundID: 3, StartTime: 1000, StartSnapshotSubmitted: true,
		ResultsEvaluated: true, HighestScore: 9, ActualOutcomes: outcomes,
	})
	require.NotNil(t, evaluated.StartTime)
	assert.Equal(t, int64(1000), *evaluated.StartTime)
	require.NotNil(t, evaluated.HighestScore)
	assert.Equal(t, 9, *evaluated.HighestScore)
	assert.Equal(t, outcomes, evaluated.ActualOutcomes)
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name           string
		snap           Snapshot
		expectedStatus string
	}{
		{"fresh round", Snapshot{}, "Not Started"},
		{"start snapshot", Snapshot{StartSnapshotSubmitted: true}, "Active"},
		{"end snapshot", Snapshot{StartSnapshotSubmitted: true, EndSnapshotSubmitted: true}, "End Snapshot Submitted"},
		{"evaluated", Snapshot{EndSnapshotSubmitted: true, ResultsEvaluated: true}, "Results Evaluated"},
		{"aborted wins over evaluated", Snapshot{ResultsEvaluated: true, Aborted: true}, "ABORTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusText(tt.snap); got != tt.expectedStatus {
				t.Errorf("%s: got %q, want %q", tt.name, got, tt.expectedStatus)
			}
		})
	}
}

func TestMaintenanceWindow(t *testing.T) {
	sat, err := ParseMaintenanceWindow(time.Saturday, "21:00", time.Hour)
	require.NoError(t, err)

	// 2024-06-08 is a Saturday
	assert.False(t, sat.Contains(time.Date(2024, 6, 8, 20, 59, 59, 0, time.UTC)))
	assert.True(t, sat.Contains(time.Date(2024, 6, 8, 21, 0, 0, 0, time.UTC)))
	assert.True(t, sat.Contains(time.Date(2024, 6, 8, 21, 59, 59, 0, time.UTC)))
	assert.False(t, sat.Contains(time.Date(2024, 6, 8, 22, 0, 0, 0, time.UTC)))
	assert.False(t, sat.Contains(time.Date(2024, 6, 9, 21, 30, 0, 0, time.UTC)))
	// non-UTC input is normalised
	assert.True(t, sat.Contains(time.Date(2024, 6, 8, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600))))

	next := sat.Next(time.Date(2024, 6, 8, 21, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 6, 15, 21, 0, 0, 0, time.UTC), next)

	// Saturday 23:30 for 90 minutes crosses into Sunday and into the next week
	late, err := ParseMaintenanceWindow(time.Saturday, "23:30", 90*time.Minute)
	require.NoError(t, err)
	assert.True(t, late.Contains(time.Date(2024, 6, 9, 0, 45, 0, 0, time.UTC)))
	assert.False(t, late.Contains(time.Date(2024, 6, 9, 1, 0, 0, 0, time.UTC)))

	_, err = ParseMaintenanceWindow(time.Sunday, "9pm", time.Hour)
	assert.Error(t, err)
	_, err = ParseMaintenanceWindow(time.Sunday, "20:45", 0)
	assert.Error(t, err)
}

func TestDailySnapshotSchedule(t *testing.T) {
	before := time.Date(2024, 6, 8, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 8, 21, 0, 0, 0, time.UTC), NextDailySnapshot(before))
	assert.Equal(t, time.Date(2024, 6, 7, 21, 0, 0, 0, time.UTC), LastDailySnapshot(before))

	at := time.Date(2024, 6, 8, 21, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 9, 21, 0, 0, 0, time.UTC), NextDailySnapshot(at))
	assert.Equal(t, at, LastDailySnapshot(at))
}

func openRound(id uint64) *chain.RoundData {
	return &chain.RoundData{RoundID: id, StartTime: 1000, StartSnapshotSubmitted: true}
}

var weekday = time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC) // Wednesday

func TestDeriveSalesOpenReadsPrice(t *testing.T) {
	r := &mockReader{}
	r.On("CurrentRoundID", mock.Anything).Return(uint64(5), nil)
	r.On("RoundData", mock.Anything, uint64(5)).Return(openRound(5), nil)
	r.On("TicketSalesDurationSeconds", mock.Anything).Return(int64(3600), nil)
	r.On("LatestBlockTime", mock.Anything).Return(int64(2000), nil)
	r.On("CurrentTicketPriceNative", mock.Anything).Return(big.NewInt(5e18), nil)

	d := NewDeriver(r, nil, quietLogger())
	state, err := d.Derive(context.Background(), weekday)
	require.NoError(t, err)

	assert.Equal(t, PhaseSalesOpen, state.Phase)
	assert.True(t, state.PurchasesAllowed)
	assert.Equal(t, big.NewInt(5e18), state.TicketPriceNative)
	require.NotNil(t, state.SalesEndTime)
	assert.Equal(t, int64(4600), *state.SalesEndTime)
	assert.Equal(t, 2600*time.Second, state.SalesRemaining())
	assert.False(t, state.RoundChanged)
	r.AssertExpectations(t)
}

func TestDeriveAbortedSkipsPriceRead(t *testing.T) {
	rd := openRound(5)
	rd.Aborted = true

	r := &mockReader{}
	r.On("CurrentRoundID", mock.Anything).Return(uint64(5), nil)
	r.On("RoundData", mock.Anything, uint64(5)).Return(rd, nil)

	d := NewDeriver(r, nil, quietLogger())
	state, err := d.Derive(context.Background(), weekday)
	require.NoError(t, err)

	assert.Equal(t, PhaseAborted, state.Phase)
	assert.Nil(t, state.TicketPriceNative)
	assert.False(t, state.PurchasesAllowed)
	r.AssertNotCalled(t, "CurrentTicketPriceNative", mock.Anything)
}

func TestDeriveNoRound(t *testing.T) {
	r := &mockReader{}
	r.On("CurrentRoundID", mock.Anything).Return(uint64(0), nil)

	window, err := ParseMaintenanceWindow(weekday.Weekday(), "11:00", 2*time.Hour)
	require.NoError(t, err)
	d := NewDeriver(r, &window, quietLogger())

	state, err := d.Derive(context.Background(), weekday)
	require.NoError(t, err)
	assert.Equal(t, PhaseNoRound, state.Phase, "maintenance does not override an absent round")
	r.AssertNotCalled(t, "RoundData", mock.Anything, mock.Anything)
}

func TestDeriveReadErrorYieldsErrorState(t *testing.T) {
	r := &mockReader{}
	r.On("CurrentRoundID", mock.Anything).Return(uint64(5), nil)
	r.On("RoundData", mock.Anything, uint64(5)).Return(openRound(5), nil)
	r.On("TicketSalesDurationSeconds", mock.Anything).Return(int64(3600), nil)
	r.On("LatestBlockTime", mock.Anything).Return(int64(2000), nil)
	r.On("CurrentTicketPriceNative", mock.Anything).Return(nil, errors.New("rpc timeout"))

	d := NewDeriver(r, nil, quietLogger())
	state, err := d.Derive(context.Background(), weekday)

	require.Error(t, err)
	assert.ErrorContains(t, err, "read ticket price")
	assert.Equal(t, PhaseError, state.Phase)
	assert.Nil(t, state.TicketPriceNative)
	assert.False(t, state.PurchasesAllowed)
}

func TestDeriveMaintenanceOverlay(t *testing.T) {
	r := &mockReader{}
	r.On("CurrentRoundID", mock.Anything).Return(uint64(5), nil)
	r.On("RoundData", mock.Anything, uint64(5)).Return(openRound(5), nil)
	r.On("TicketSalesDurationSeconds", mock.Anything).Return(int64(3600), nil)
	r.On("LatestBlockTime", mock.Anything).Return(int64(2000), nil)
	r.On("CurrentTicketPriceNative", mock.Anything).Return(big.NewInt(1), nil)

	window, err := ParseMaintenanceWindow(weekday.Weekday(), "11:30", time.Hour)
	require.NoError(t, err)
	d := NewDeriver(r, &window, quietLogger())

	state, err := d.Derive(context.Background(), weekday)
	require.NoError(t, err)
	assert.Equal(t, PhasePaused, state.Phase)
	assert.Equal(t, PhaseSalesOpen, state.ContractPhase)
	assert.False(t, state.PurchasesAllowed)

	state, err = d.Derive(context.Background(), weekday.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, PhaseSalesOpen, state.Phase)
	assert.True(t, state.PurchasesAllowed)
}

func TestDeriveDetectsRoundChange(t *testing.T) {
	pending := func(id uint64) *chain.RoundData { return &chain.RoundData{RoundID: id} }

	r := &mockReader{}
	r.On("CurrentRoundID", mock.Anything).Return(uint64(5), nil).Once()
	r.On("CurrentRoundID", mock.Anything).Return(uint64(5), nil).Once()
	r.On("CurrentRoundID", mock.Anything).Return(uint64(6), nil).Once()
	r.On("CurrentRoundID", mock.Anything).Return(uint64(2), nil).Once()
	for _, id := range []uint64{5, 6, 2} {
		r.On("RoundData", mock.Anything, id).Return(pending(id), nil)
	}

	d := NewDeriver(r, nil, quietLogger())
	ctx := context.Background()

	first, err := d.Derive(ctx, weekday)
	require.NoError(t, err)
	assert.False(t, first.RoundChanged)

	same, err := d.Derive(ctx, weekday)
	require.NoError(t, err)
	assert.False(t, same.RoundChanged)

	next, err := d.Derive(ctx, weekday)
	require.NoError(t, err)
	assert.True(t, next.RoundChanged)
	assert.Equal(t, uint64(5), next.PreviousRoundID)
	assert.Equal(t, uint64(6), next.Round.RoundID)

	reset, err := d.Derive(ctx, weekday)
	require.NoError(t, err)
	assert.True(t, reset.RoundChanged)
	assert.Equal(t, uint64(6), reset.PreviousRoundID)
}
