// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/conderr"
	"github.com/AleutianAI/conditions/services/conditions/conditionstest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const calibrationItem = `ECalLayering = 0, 20
ECalMip_MPV = 0.000147
ECalMip_sig = 0.00002
ECalMip_Cut = 0.00005
EMBarrel_SF = 0.0175, 0.0094
HadBarrel_SF = 0.0175, 0.0094
EMEndcap_SF = 0.018, 0.0096
HadEndcap_SF = 0.018, 0.0096
timeCut = 100
`

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	m := conditionstest.NewManager(t, map[string]string{
		"DetX/detector.properties":               "name=DetX\n",
		"DetX/ECal/Sampling.properties":          "layers=30\nfraction=0.0175\n",
		"DetX/ECal/compact.xml":                  "<lcdd/>",
		"DetX/broken.properties":                 "key=\\u12",
		"DetX/CalorimeterCalibration.properties": calibrationItem,
		"DetY/ECal/Sampling.properties":          "layers=40\n",
	})
	return NewRouter(conditions.NewLocked(m))
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	HealthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetConditions(t *testing.T) {
	router := newTestRouter(t)

	w := get(t, router, "/v1/conditions/DetX/ECal/Sampling?run=7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Detector string            `json:"detector"`
		Run      int               `json:"run"`
		Item     string            `json:"item"`
		Values   map[string]string `json:"values"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DetX", body.Detector)
	assert.Equal(t, 7, body.Run)
	assert.Equal(t, "ECal/Sampling", body.Item)
	assert.Equal(t, "30", body.Values["layers"])

	// Switching detectors between requests reads the new detector.
	w = get(t, router, "/v1/conditions/DetY/ECal/Sampling")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"layers":"40"`)
}

func TestGetConditions_Key(t *testing.T) {
	router := newTestRouter(t)

	w := get(t, router, "/v1/conditions/DetX/ECal/Sampling?key=fraction")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "0.0175", body["value"])
	assert.Equal(t, "float", body["type"])

	w = get(t, router, "/v1/conditions/DetX/ECal/Sampling?key=absent")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetConditions_Errors(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown detector", "/v1/conditions/Nope/ECal/Sampling", http.StatusNotFound},
		{"unknown item", "/v1/conditions/DetX/HCal/Sampling", http.StatusNotFound},
		{"malformed item", "/v1/conditions/DetX/broken", http.StatusUnprocessableEntity},
		{"bad run", "/v1/conditions/DetX/ECal/Sampling?run=abc", http.StatusBadRequest},
		{"missing item", "/v1/conditions/DetX/", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, tt.path)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestGetRaw(t *testing.T) {
	router := newTestRouter(t)

	w := get(t, router, "/v1/raw/DetX/ECal/compact.xml")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<lcdd/>", w.Body.String())
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))

	w = get(t, router, "/v1/raw/DetX/ECal/missing.xml")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCalibration(t *testing.T) {
	router := newTestRouter(t)

	for run := 1; run <= 2; run++ {
		w := get(t, router, fmt.Sprintf("/v1/calibration/DetX?run=%d", run))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var body struct {
			Detector    string `json:"detector"`
			Run         int    `json:"run"`
			Calibration struct {
				TimeCut  float64 `json:"timeCut"`
				Sections []struct {
					Kind   string `json:"kind"`
					Barrel []struct {
						Lower int     `json:"lower"`
						Upper int     `json:"upper"`
						EM    float64 `json:"em"`
					} `json:"barrel"`
				} `json:"sections"`
			} `json:"calibration"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "DetX", body.Detector)
		assert.Equal(t, run, body.Run)
		assert.Equal(t, 100.0, body.Calibration.TimeCut)
		require.Len(t, body.Calibration.Sections, 1)
		sec := body.Calibration.Sections[0]
		assert.Equal(t, "ECal", sec.Kind)
		require.Len(t, sec.Barrel, 2)
		assert.Equal(t, 19, sec.Barrel[0].Upper)
		assert.Equal(t, -1, sec.Barrel[1].Upper)
		assert.Equal(t, 0.0094, sec.Barrel[1].EM)
	}

	w := get(t, router, "/v1/calibration/DetY")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, router, "/v1/calibration/DetX?run=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDetectors(t *testing.T) {
	router := newTestRouter(t)

	w := get(t, router, "/v1/detectors")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Detectors []string `json:"detectors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"DetX", "DetY"}, body.Detectors)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := map[error]int{
		conderr.ErrNotFound:         http.StatusNotFound,
		conderr.ErrMalformed:        http.StatusUnprocessableEntity,
		conderr.ErrBackendIntegrity: http.StatusUnprocessableEntity,
		conderr.ErrInvalidName:      http.StatusBadRequest,
		conderr.ErrAliasCycle:       http.StatusBadRequest,
		conderr.ErrNotSet:           http.StatusInternalServerError,
	}
	for err, want := range tests {
		wrapped := fmt.Errorf("request: %w", err)
		assert.Equal(t, want, errorStatus(wrapped), err.Error())
	}
}

func TestStreamEvents(t *testing.T) {
	router := newTestRouter(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg EventMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "subscribed", msg.Action)

	resp, err := http.Get(ts.URL + "/v1/conditions/DetX/ECal/Sampling?run=3")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "conditions_changed", msg.Action)
	assert.NotEmpty(t, msg.ID)
	assert.Nil(t, msg.Previous)
	require.NotNil(t, msg.Current)
	assert.Equal(t, "DetX", msg.Current.Detector)
	assert.Equal(t, 3, msg.Current.Run)

	resp, err = http.Get(ts.URL + "/v1/conditions/DetY/ECal/Sampling")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, ws.ReadJSON(&msg))
	require.NotNil(t, msg.Previous)
	assert.Equal(t, "DetX", msg.Previous.Detector)
	assert.Equal(t, "DetY", msg.Current.Detector)
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub()
	ch := hub.subscribe()
	assert.Equal(t, 1, hub.Subscribers())

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, hub.ConditionsChanged(conditions.ChangeEvent{}))
	}
	assert.Len(t, ch, subscriberBuffer)

	hub.unsubscribe(ch)
	assert.Equal(t, 0, hub.Subscribers())
}
