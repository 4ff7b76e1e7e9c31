// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/calorimeter"
	"github.com/AleutianAI/conditions/services/conditions/conderr"
)

// errorStatus maps an error kind to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, conderr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conderr.ErrMalformed), errors.Is(err, conderr.ErrBackendIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conderr.ErrInvalidName), errors.Is(err, conderr.ErrAliasCycle):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	status := errorStatus(err)
	kind := "internal"
	if k := conderr.KindOf(err); k != nil {
		kind = k.Error()
	}
	if status == http.StatusInternalServerError {
		slog.Error("conditions request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "kind": kind})
}

// request holds the identity and item parsed from a conditions URL.
type request struct {
	detector string
	run      int
	item     string
}

// parseRun reads the optional ?run query. Zero when absent.
func parseRun(c *gin.Context) (int, bool) {
	v := c.Query("run")
	if v == "" {
		return 0, true
	}
	run, err := strconv.Atoi(v)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "run must be an integer"})
		return 0, false
	}
	return run, true
}

func parseRequest(c *gin.Context) (request, bool) {
	req := request{
		detector: c.Param("detector"),
		item:     strings.Trim(c.Param("item"), "/"),
	}
	run, ok := parseRun(c)
	if !ok {
		return req, false
	}
	req.run = run
	if req.item == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "item name is required"})
		return req, false
	}
	return req, true
}

// GetCalibration returns the detector's calorimeter calibration. The value
// is memoized by the manager until the detector or run changes, so repeated
// requests for one identity convert once.
func GetCalibration(lk *conditions.Locked) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := parseRun(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		detector := c.Param("detector")

		var cal *calorimeter.Calibration
		err := lk.With(ctx, detector, run, func(m *conditions.Manager) error {
			h, err := calorimeter.Cached(m)
			if err != nil {
				return err
			}
			cal, err = h.Data(ctx)
			return err
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"detector":    detector,
			"run":         run,
			"calibration": cal,
		})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListDetectors returns every detector name the manager can resolve.
func ListDetectors(lk *conditions.Locked) gin.HandlerFunc {
	return func(c *gin.Context) {
		var names []string
		err := lk.Do(func(m *conditions.Manager) error {
			var err error
			names, err = m.DetectorNames(c.Request.Context())
			return err
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"detectors": names})
	}
}

// GetConditions returns a ConditionsSet as JSON. With ?key=K only that key
// is returned, with its advisory type.
func GetConditions(lk *conditions.Locked) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := parseRequest(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		key := c.Query("key")

		var body gin.H
		err := lk.With(ctx, req.detector, req.run, func(m *conditions.Manager) error {
			set, err := m.Conditions(ctx, req.item)
			if err != nil {
				return err
			}
			if key == "" {
				body = gin.H{
					"detector": req.detector,
					"run":      req.run,
					"item":     req.item,
					"values":   set.Map(),
				}
				return nil
			}
			v, err := set.String(key)
			if err != nil {
				return err
			}
			typ, _ := set.Type(key)
			body = gin.H{
				"detector": req.detector,
				"run":      req.run,
				"item":     req.item,
				"key":      key,
				"value":    v,
				"type":     typ.String(),
			}
			return nil
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// GetRaw streams a raw item.
func GetRaw(lk *conditions.Locked) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := parseRequest(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		var data []byte
		var typ string
		err := lk.With(ctx, req.detector, req.run, func(m *conditions.Manager) error {
			raw, err := m.RawConditions(req.item)
			if err != nil {
				return err
			}
			typ = raw.Type()
			data, err = raw.Bytes()
			return err
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		c.Data(http.StatusOK, contentType(typ), data)
	}
}

func contentType(typ string) string {
	switch typ {
	case "xml", "lcdd", "gdml":
		return "application/xml"
	case "json":
		return "application/json"
	case "properties", "ini", "txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
