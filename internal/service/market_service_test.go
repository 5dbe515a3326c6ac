package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/predictd/internal/domain"
	"github.com/openforecast/predictd/internal/store/memory"
)

func TestCreateMarket(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewMarketService(st.Markets(), nil, discardLogger())

	m, err := svc.CreateMarket(ctx, CreateMarketParams{
		Question:    "Will the launch happen this quarter?",
		CreatorID:   "creator",
		ClosingDate: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.InDelta(t, 0.5, m.ProbabilityYes, 1e-9)
	assert.InDelta(t, 0.5, m.ProbabilityNo, 1e-9)
	assert.Equal(t, int64(defaultMinAmount), m.MinAmount)
	assert.Equal(t, int64(defaultMaxAmount), m.MaxAmount)
	assert.Zero(t, m.TotalVolume)

	stored, err := svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, stored.ID)
}

func TestCreateMarket_Validation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewMarketService(st.Markets(), nil, discardLogger())

	cases := []struct {
		name   string
		params CreateMarketParams
	}{
		{"empty question", CreateMarketParams{CreatorID: "c", ClosingDate: time.Now().Add(time.Hour)}},
		{"missing creator", CreateMarketParams{Question: "q?", ClosingDate: time.Now().Add(time.Hour)}},
		{"closing in the past", CreateMarketParams{Question: "q?", CreatorID: "c", ClosingDate: time.Now().Add(-time.Hour)}},
		{"inverted bounds", CreateMarketParams{Question: "q?", CreatorID: "c", ClosingDate: time.Now().Add(time.Hour), MinAmount: 100, MaxAmount: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateMarket(ctx, tc.params)
			assert.Error(t, err)
		})
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	st := memory.New()
	svc := NewMarketService(st.Markets(), nil, discardLogger())

	_, err := svc.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseExpired(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewMarketService(st.Markets(), nil, discardLogger())

	now := time.Now().UTC()
	seedMarket(t, st, func(m *domain.Market) {
		m.ID = "mkt-expired"
		m.ClosingDate = now.Add(-time.Minute)
	})
	seedMarket(t, st, func(m *domain.Market) {
		m.ID = "mkt-live"
		m.ClosingDate = now.Add(time.Hour)
	})

	closed, err := svc.CloseExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	expired, err := st.Markets().GetByID(ctx, "mkt-expired")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, expired.Status)
	live, err := st.Markets().GetByID(ctx, "mkt-live")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, live.Status)

	// Sweeping again finds nothing left to close.
	closed, err = svc.CloseExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, closed)
}
