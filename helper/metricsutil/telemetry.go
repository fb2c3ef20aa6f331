// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metricsutil

import (
	"time"

	"github.com/armon/go-metrics"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/log"
)

// DefaultServiceName is the metrics prefix used when none is configured
const DefaultServiceName = "slurmsweep"

// SetupTelemetry configures the global metrics sink.
//
// An in-memory sink is always registered; statsd and statsite sinks are added when configured.
// The returned sink may be dumped on demand (ie at the end of a command).
func SetupTelemetry(cfg config.Configuration) (*metrics.InmemSink, error) {
	memSink := metrics.NewInmemSink(10*time.Second, time.Minute)
	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	metricsConf := metrics.DefaultConfig(serviceName)
	metricsConf.EnableHostname = !cfg.Telemetry.DisableHostName
	metricsConf.EnableRuntimeMetrics = false
	var sinks metrics.FanoutSink

	if cfg.Telemetry.StatsdAddress != "" {
		log.Debugf("Setting up a statsd telemetry service on %q", cfg.Telemetry.StatsdAddress)
		statsdSink, err := metrics.NewStatsdSink(cfg.Telemetry.StatsdAddress)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create Statsd telemetry service")
		}
		sinks = append(sinks, statsdSink)
	}

	if cfg.Telemetry.StatsiteAddress != "" {
		log.Debugf("Setting up a statsite telemetry service on %q", cfg.Telemetry.StatsiteAddress)
		statsitedSink, err := metrics.NewStatsiteSink(cfg.Telemetry.StatsiteAddress)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create Statsite telemetry service")
		}
		sinks = append(sinks, statsitedSink)
	}

	var err error
	if len(sinks) > 0 {
		sinks = append(sinks, memSink)
		_, err = metrics.NewGlobal(metricsConf, sinks)
	} else {
		log.Debugln("Using InMemory only telemetry")
		_, err = metrics.NewGlobal(metricsConf, memSink)
	}
	return memSink, errors.Wrap(err, "Failed to setup telemetry")
}
