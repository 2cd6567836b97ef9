package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/model"
)

func TestGenerate_Deterministic(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	center := geo.Point{Lat: -23.5505, Lon: -46.6333}

	a := Generate(center, 5, 30, now)
	b := Generate(geo.Point{Lat: -23.5509, Lon: -46.6331}, 5, 30, now)

	require.Len(t, a.Stations, 30)
	assert.Equal(t, a.Stations, b.Stations, "same quantised location must give the same stations")
	assert.True(t, a.Synthetic)
	assert.Equal(t, "true", a.Metadata[MetaSynthetic])
	assert.Equal(t, "São Paulo", a.Metadata["city"])

	c := Generate(geo.Point{Lat: -22.9068, Lon: -43.1729}, 5, 30, now)
	assert.NotEqual(t, a.Stations[0].ID, c.Stations[0].ID)
	assert.Equal(t, "RJ", c.Stations[0].State)
}

func TestGenerate_Ranges(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := Generate(geo.Point{Lat: -19.9167, Lon: -43.9345}, 3, 200, now)
	center := geo.Point{Lat: -19.92, Lon: -43.93} // placement is around the quantised point

	ids := make(map[string]bool)
	cng := 0
	for _, st := range snap.Stations {
		assert.False(t, ids[st.ID], "duplicate id %s", st.ID)
		ids[st.ID] = true

		assert.LessOrEqual(t, geo.DistanceKm(center, geo.Point{Lat: st.Lat, Lon: st.Lon}), 3.05)
		assert.InDelta(t, 5.74, st.Prices[model.FuelGasoline], 0.46)
		assert.InDelta(t, 4.19, st.Prices[model.FuelEthanol], 0.41)
		assert.InDelta(t, 4.99, st.Prices[model.FuelDiesel], 0.41)
		if p, ok := st.Price(model.FuelCNG); ok {
			cng++
			assert.InDelta(t, 3.54, p, 0.36)
		}

		age := now.Sub(st.CollectedAt)
		assert.True(t, age >= 0 && age <= 8*24*time.Hour, "collected_at %v out of range", st.CollectedAt)
		assert.NotEmpty(t, st.Name)
		assert.Equal(t, "MG", st.State)
	}
	// Roughly 30% sell CNG
	assert.InDelta(t, 60, cng, 35)
}

func TestGenerate_Defaults(t *testing.T) {
	snap := Generate(geo.Point{}, 0, 0, time.Now())
	assert.Len(t, snap.Stations, DefaultCount)
}

func TestGenerateText(t *testing.T) {
	now := time.Now()
	snap := GenerateText("  curitiba ", 5, now)
	require.Len(t, snap.Stations, 5)
	assert.Equal(t, "PR", snap.Stations[0].State)

	snap = GenerateText("posto do zé", 5, now)
	assert.Equal(t, "SP", snap.Stations[0].State)
}
