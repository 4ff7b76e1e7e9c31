// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// fetchTotal counts fetch outcomes by scheme: downloaded, cached, invalid.
var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "conditions",
	Subsystem: "fetch",
	Name:      "total",
	Help:      "Remote archive fetches by scheme and outcome.",
}, []string{"scheme", "outcome"})
