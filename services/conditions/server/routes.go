// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes a read-only HTTP view of detector conditions.
//
// All requests share one Manager through conditions.Locked; each request
// sets its (detector, run) and reads under the lock.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/calorimeter"
)

// ServiceName is the otel service name of the HTTP surface.
const ServiceName = "conditions-server"

// SetupRoutes registers the conditions API on router. hub, when non-nil,
// backs the /v1/events websocket and must already be a manager listener.
func SetupRoutes(router *gin.Engine, lk *conditions.Locked, hub *Hub) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", HealthCheck)
		v1.GET("/detectors", ListDetectors(lk))
		v1.GET("/conditions/:detector/*item", GetConditions(lk))
		v1.GET("/raw/:detector/*item", GetRaw(lk))
		v1.GET("/calibration/:detector", GetCalibration(lk))
		if hub != nil {
			v1.GET("/events", StreamEvents(hub))
		}
	}
}

// NewRouter builds a gin engine with recovery, tracing and the API routes,
// subscribes a Hub to lk's manager for the event stream and registers the
// calorimeter calibration converter.
func NewRouter(lk *conditions.Locked) *gin.Engine {
	hub := NewHub()
	_ = lk.Do(func(m *conditions.Manager) error {
		m.AddListener(hub)
		m.RegisterConverter(calorimeter.Converter())
		return nil
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	SetupRoutes(router, lk, hub)
	return router
}
