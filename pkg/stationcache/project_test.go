package stationcache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elSilveira/gaser/pkg/cache"
	"github.com/elSilveira/gaser/pkg/model"
)

func TestMerge_SnapshotMembershipWins(t *testing.T) {
	older := model.Snapshot{Stations: []model.Station{{ID: "a", Name: "Posto A"}, {ID: "b", Name: "Posto B"}}}
	newer := model.Snapshot{Stations: []model.Station{
		{ID: "a", Prices: map[model.FuelType]float64{model.FuelGasoline: 5.59}},
		{ID: "b", Prices: map[model.FuelType]float64{model.FuelGasoline: 5.69}},
		{ID: "c", Prices: map[model.FuelType]float64{model.FuelGasoline: 5.79}},
	}}

	snapRaw, err := project(cache.KindSnapshot, &older)
	require.NoError(t, err)
	pricesRaw, err := project(cache.KindPrices, &newer)
	require.NoError(t, err)

	got, err := merge(map[cache.Kind]json.RawMessage{
		cache.KindSnapshot: snapRaw,
		cache.KindPrices:   pricesRaw,
	})
	require.NoError(t, err)

	require.Len(t, got.Stations, 2)
	assert.Equal(t, []string{"a", "b"}, got.StationIDs())
	assert.Equal(t, 5.59, got.Stations[0].Prices[model.FuelGasoline])
	assert.Equal(t, "Posto B", got.Stations[1].Name)
}

func TestMerge_OverlaysOnlyUnion(t *testing.T) {
	prices := model.Snapshot{Stations: []model.Station{{ID: "a"}, {ID: "c"}}}
	coords := model.Snapshot{Stations: []model.Station{{ID: "a", Lat: 1}, {ID: "b", Lat: 2}}}

	pricesRaw, err := project(cache.KindPrices, &prices)
	require.NoError(t, err)
	coordsRaw, err := project(cache.KindCoordinates, &coords)
	require.NoError(t, err)

	got, err := merge(map[cache.Kind]json.RawMessage{
		cache.KindPrices:      pricesRaw,
		cache.KindCoordinates: coordsRaw,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got.StationIDs())
}
