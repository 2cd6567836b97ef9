package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elSilveira/gaser/pkg/model"
	"github.com/elSilveira/gaser/pkg/regionkey"
)

// notSold is the backend's marker for a fuel the station does not carry.
const notSold = "N/A"

// wireStation is a station as served by the backend.
type wireStation struct {
	ID          flexString `json:"id"`
	Nome        string     `json:"nome"`
	Bandeira    string     `json:"bandeira"`
	Endereco    string     `json:"endereco"`
	Bairro      string     `json:"bairro"`
	Cidade      string     `json:"cidade"`
	Estado      string     `json:"estado"`
	Latitude    flexFloat  `json:"latitude"`
	Longitude   flexFloat  `json:"longitude"`
	Gasolina    flexString `json:"preco_gasolina"`
	Alcool      flexString `json:"preco_alcool"`
	Diesel      flexString `json:"preco_diesel"`
	GNV         flexString `json:"preco_gnv"`
	Atualizacao string     `json:"ultima_atualizacao"`
	Distancia   *flexFloat `json:"distancia,omitempty"`
}

type listResponse struct {
	Postos []wireStation `json:"postos"`
	Total  int           `json:"total"`
}

type singleResponse struct {
	Posto *wireStation `json:"posto"`
}

func decode(t regionkey.Type, body []byte) ([]model.Station, error) {
	var raw []wireStation
	if t == regionkey.TypeID {
		var r singleResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		if r.Posto != nil {
			raw = []wireStation{*r.Posto}
		}
	} else {
		var r listResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		raw = r.Postos
	}

	out := make([]model.Station, 0, len(raw))
	for i := range raw {
		s, err := raw[i].station()
		if err != nil {
			return nil, fmt.Errorf("station %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (w *wireStation) station() (model.Station, error) {
	id := strings.TrimSpace(string(w.ID))
	if id == "" {
		return model.Station{}, fmt.Errorf("missing id")
	}
	s := model.Station{
		ID:           id,
		Name:         w.Nome,
		Brand:        w.Bandeira,
		Address:      w.Endereco,
		Neighborhood: w.Bairro,
		City:         w.Cidade,
		State:        w.Estado,
		Lat:          float64(w.Latitude),
		Lon:          float64(w.Longitude),
		Prices:       make(map[model.FuelType]float64),
	}
	prices := map[model.FuelType]flexString{
		model.FuelGasoline: w.Gasolina,
		model.FuelEthanol:  w.Alcool,
		model.FuelDiesel:   w.Diesel,
		model.FuelCNG:      w.GNV,
	}
	for fuel, raw := range prices {
		p, ok, err := parsePrice(string(raw))
		if err != nil {
			return model.Station{}, fmt.Errorf("%s price: %w", fuel, err)
		}
		if ok {
			s.Prices[fuel] = p
		}
	}
	if w.Atualizacao != "" {
		t, err := parseDate(w.Atualizacao)
		if err != nil {
			return model.Station{}, err
		}
		s.CollectedAt = t
	}
	if w.Distancia != nil {
		s.DistanceKm = float64(*w.Distancia)
	}
	return s, nil
}

// parsePrice accepts "5.49", "5,49" and "R$ 5,49". Empty and "N/A" mean not sold.
func parsePrice(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, notSold) {
		return 0, false, nil
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "R$"))
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if v <= 0 {
		return 0, false, nil
	}
	return v, true, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05", time.DateTime} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ultima_atualizacao %q", s)
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*s = flexString(n.String())
	}
	return nil
}
