package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// SamplesJSON is the JSON representation of a sample query result.
type SamplesJSON struct {
	Kind             string  `json:"kind"`
	Index            int     `json:"index"`
	Timestamp        string  `json:"timestamp"`
	DelayUs          int32   `json:"delay_us"`
	SampleIntervalUs uint32  `json:"sample_interval_us"`
	Offset           int32   `json:"offset"`
	Multiplier       float64 `json:"multiplier"`
	Values           []int16 `json:"values"`
}

// ErrorJSON is returned with every non-200 sample response.
type ErrorJSON struct {
	Error string `json:"error"`
}

// LiveJSON is one message on the live stream.
type LiveJSON struct {
	Timestamp   string   `json:"timestamp"`
	PowerMW     int32    `json:"power_mw"`
	PowerFastMW int32    `json:"power_fast_mw"`
	ApparentMVA int32    `json:"apparent_mva"`
	EnergyUJ    int64    `json:"energy_uj"`
	CurrentMA   int32    `json:"current_ma"`
	VoltageMV   int32    `json:"voltage_mv"`
	Faults      []string `json:"faults"`
}

func formatSamples(s power.Samples) []byte {
	data, _ := json.Marshal(SamplesJSON{
		Kind:             s.Kind.String(),
		Index:            s.Index,
		Timestamp:        s.Timestamp.UTC().Format(time.RFC3339Nano),
		DelayUs:          s.DelayUs,
		SampleIntervalUs: s.SampleIntervalUs,
		Offset:           s.Offset,
		Multiplier:       s.Multiplier,
		Values:           s.Values,
	})
	return data
}

func formatLive(tel power.Telemetry) []byte {
	faults := tel.Faults.List()
	if faults == nil {
		faults = []string{}
	}
	data, _ := json.Marshal(LiveJSON{
		Timestamp:   tel.Timestamp.UTC().Format(time.RFC3339Nano),
		PowerMW:     tel.PowerMilliWatt,
		PowerFastMW: tel.PowerFastMilliWatt,
		ApparentMVA: tel.ApparentPowerMilliVA,
		EnergyUJ:    tel.EnergyMicroJoule,
		CurrentMA:   tel.CurrentRmsMilliAmp,
		VoltageMV:   tel.VoltageRmsMilliVolt,
		Faults:      faults,
	})
	return data
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.Marshal(ErrorJSON{Error: err.Error()})
	w.Write(data)
}

// handleSamples serves /samples?kind=<name|number>&index=<n>.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sample queries unavailable"))
		return
	}
	q := r.URL.Query()
	kind, err := power.ParseSamplesKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	index := 0
	if v := q.Get("index"); v != "" {
		index, err = strconv.Atoi(v)
		if err != nil || index < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad index %q", v))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()
	res, err := s.samples.Samples(ctx, kind, index)
	switch {
	case errors.Is(err, power.ErrNotAvailable):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, power.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatSamples(res))
}
