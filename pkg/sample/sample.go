// Package sample generates plausible synthetic stations for when the remote
// backend cannot be reached. Output is deterministic for a given location so a
// map redrawn at the same place shows the same markers.
package sample

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/elSilveira/gaser/pkg/geo"
	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/regionkey"
)

// MetaSynthetic is set on every generated snapshot's metadata.
const MetaSynthetic = "synthetic"

// DefaultCount is the number of stations generated when none is requested.
const DefaultCount = 30

// namespace scopes the deterministic station ids.
var namespace = uuid.MustParse("6f1f7b7e-3c1a-4f5e-9a57-2f8d6f0c9a11")

var brands = []string{
	"Petrobras", "Shell", "Ipiranga", "Raízen", "Ale", "Bandeira Branca",
	"Esso", "Texaco", "Ale Satélite", "Petronac", "Federação", "Larco",
}

type city struct {
	name, state string
	lat, lon    float64
}

var cities = []city{
	{"São Paulo", "SP", -23.5505, -46.6333},
	{"Rio de Janeiro", "RJ", -22.9068, -43.1729},
	{"Belo Horizonte", "MG", -19.9167, -43.9345},
	{"Brasília", "DF", -15.7801, -47.9292},
	{"Salvador", "BA", -12.9714, -38.5014},
	{"Fortaleza", "CE", -3.7172, -38.5433},
	{"Recife", "PE", -8.0476, -34.8770},
	{"Porto Alegre", "RS", -30.0346, -51.2177},
	{"Curitiba", "PR", -25.4290, -49.2671},
	{"Manaus", "AM", -3.1190, -60.0217},
	{"Belém", "PA", -1.4558, -48.4902},
	{"Goiânia", "GO", -16.6799, -49.2550},
	{"Florianópolis", "SC", -27.5954, -48.5480},
	{"Vitória", "ES", -20.2976, -40.2958},
	{"Campo Grande", "MS", -20.4697, -54.6201},
	{"Cuiabá", "MT", -15.6014, -56.0979},
	{"João Pessoa", "PB", -7.1195, -34.8450},
	{"Teresina", "PI", -5.0920, -42.8038},
	{"Natal", "RN", -5.7945, -35.2110},
	{"Aracaju", "SE", -10.9472, -37.0731},
}

var (
	streetTypes   = []string{"Rua", "Avenida", "Rodovia", "Estrada"}
	streetNames   = []string{"Principal", "Central", "das Flores", "dos Estados", "Brasil", "Santos Dumont", "JK"}
	neighborhoods = []string{"Centro", "Jardim América", "Vila Nova", "Parque Industrial"}
	suffixes      = []string{"Express", "Plus", "Max", "Super"}
	places        = []string{"Central", "Avenida", "Rodovia", "Shopping"}
	saints        = []string{"São Jorge", "São Pedro", "Santa Maria", "Santo Antônio"}
)

// Generate returns count synthetic stations scattered within radiusKm of center.
// The same center (at key precision), radius and count always give the same
// stations apart from CollectedAt, which is relative to now.
func Generate(center geo.Point, radiusKm float64, count int, now time.Time) model.Snapshot {
	if count <= 0 {
		count = DefaultCount
	}
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		radiusKm = 5
	}
	center = geo.Point{Lat: regionkey.Quantize(center.Lat), Lon: regionkey.Quantize(center.Lon)}
	seed := seedFor(center, radiusKm)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	c := nearestCity(center)

	stations := make([]model.Station, 0, count)
	for i := 1; i <= count; i++ {
		stations = append(stations, station(rng, center, radiusKm, c, seed, i, now))
	}

	return model.Snapshot{
		Stations:  stations,
		Metadata:  map[string]string{MetaSynthetic: "true", "city": c.name},
		FetchedAt: now,
		Synthetic: true,
	}
}

// GenerateText returns synthetic stations for a free-text query, placed around
// the city whose name matches the query, or São Paulo otherwise.
func GenerateText(query string, count int, now time.Time) model.Snapshot {
	c := cities[0]
	q := regionkey.Normalize(query)
	for _, cand := range cities {
		if regionkey.Normalize(cand.name) == q || regionkey.Normalize(cand.state) == q {
			c = cand
			break
		}
	}
	return Generate(geo.Point{Lat: c.lat, Lon: c.lon}, 10, count, now)
}

func station(rng *rand.Rand, center geo.Point, radiusKm float64, c city, seed uint64, i int, now time.Time) model.Station {
	// Uniform over the disk: sqrt for radius, uniform bearing
	dist := radiusKm * math.Sqrt(rng.Float64())
	bearing := rng.Float64() * 2 * math.Pi
	dLat := dist * math.Cos(bearing) / 111.32
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon := dist * math.Sin(bearing) / (111.32 * cosLat)
	p := geo.Offset(center, dLat, dLon)

	prices := map[model.FuelType]float64{
		model.FuelGasoline: between(rng, 5.29, 6.19),
		model.FuelEthanol:  between(rng, 3.79, 4.59),
		model.FuelDiesel:   between(rng, 4.59, 5.39),
	}
	if rng.Float64() < 0.3 {
		prices[model.FuelCNG] = between(rng, 3.19, 3.89)
	}

	daysAgo := rng.IntN(8)
	collected := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysAgo)

	brand := pick(rng, brands)
	var name string
	switch rng.IntN(4) {
	case 0:
		name = fmt.Sprintf("Auto Posto %s %s %d", brand, c.name, i)
	case 1:
		name = fmt.Sprintf("Posto %s %s", brand, pick(rng, suffixes))
	case 2:
		name = fmt.Sprintf("%s Auto Posto %s", brand, pick(rng, places))
	default:
		name = fmt.Sprintf("Posto %s %s", pick(rng, saints), brand)
	}

	neighborhood := pick(rng, neighborhoods)
	if rng.IntN(5) == 0 {
		neighborhood = fmt.Sprintf("Bairro PC %d", rng.IntN(10)+1)
	}

	return model.Station{
		ID:           uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%x:%d", seed, i))).String(),
		Name:         name,
		Brand:        brand,
		Address:      fmt.Sprintf("%s %s, %d", pick(rng, streetTypes), pick(rng, streetNames), rng.IntN(9999)+1),
		Neighborhood: neighborhood,
		City:         c.name,
		State:        c.state,
		Lat:          p.Lat,
		Lon:          p.Lon,
		Prices:       prices,
		CollectedAt:  collected,
	}
}

func seedFor(center geo.Point, radiusKm float64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%.2f:%.2f:%g", center.Lat, center.Lon, radiusKm)
	return h.Sum64()
}

func nearestCity(p geo.Point) city {
	best, bestDist := cities[0], math.Inf(1)
	for _, c := range cities {
		if d := geo.DistanceKm(p, geo.Point{Lat: c.lat, Lon: c.lon}); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func between(rng *rand.Rand, lo, hi float64) float64 {
	return math.Round((lo+rng.Float64()*(hi-lo))*100) / 100
}

func pick(rng *rand.Rand, s []string) string {
	return s[rng.IntN(len(s))]
}
