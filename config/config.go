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

package config

import (
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// DefaultWorkingDirectory is the default directory where scripts and submission records are stored
const DefaultWorkingDirectory = "work"

// DefaultStore is the default backend used to keep submission records
const DefaultStore = "file"

// DefaultConsulKeyPrefix is the default Consul KV prefix under which submission records are stored
const DefaultConsulKeyPrefix = "slurmsweep"

// DefaultJobMonitoringTimeInterval is the default delay between two job state checks
const DefaultJobMonitoringTimeInterval = 5 * time.Second

// DefaultSubmitRetries is the default number of retries of a sbatch call failing on a transient error
const DefaultSubmitRetries = 3

// DefaultSSHPort is the default port used to reach a Slurm login node
const DefaultSSHPort = 22

// Configuration holds config information filled by Cobra and Viper (see commands package for more information)
type Configuration struct {
	WorkingDirectory string
	SweepsFile       string
	Store            string
	ConsulAddress    string
	ConsulToken      string
	ConsulDatacenter string
	ConsulKeyPrefix  string
	Slurm            DynamicMap
	Telemetry        Telemetry
}

// Telemetry holds the configuration for the telemetry service
type Telemetry struct {
	StatsdAddress   string
	StatsiteAddress string
	ServiceName     string
	DisableHostName bool
}

// Validate checks that the configuration is usable and returns every problem found
func (cfg Configuration) Validate() error {
	var errs *multierror.Error
	if cfg.WorkingDirectory == "" {
		errs = multierror.Append(errs, errors.New("working directory should not be empty"))
	}
	switch cfg.Store {
	case "file":
	case "consul":
		if cfg.ConsulKeyPrefix == "" {
			errs = multierror.Append(errs, errors.New("consul key prefix should not be empty when using the consul store"))
		}
	default:
		errs = multierror.Append(errs, errors.Errorf("unsupported store %q (expecting one of \"file\" or \"consul\")", cfg.Store))
	}
	if cfg.Slurm.IsSet("job_monitoring_time_interval") {
		if _, err := cast.ToDurationE(cfg.Slurm.Get("job_monitoring_time_interval")); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "invalid slurm.job_monitoring_time_interval"))
		}
	}
	for _, key := range []string{"port", "submit_retries"} {
		if !cfg.Slurm.IsSet(key) {
			continue
		}
		v, err := cast.ToIntE(cfg.Slurm.Get(key))
		switch {
		case err != nil:
			errs = multierror.Append(errs, errors.Wrapf(err, "invalid slurm.%s", key))
		case v < 0:
			errs = multierror.Append(errs, errors.Errorf("slurm.%s should not be negative", key))
		}
	}
	return errs.ErrorOrNil()
}

// IsRemote returns true if Slurm commands should be run through SSH on a login node
func (cfg Configuration) IsRemote() bool {
	return cfg.Slurm.GetString("host") != ""
}

// JobMonitoringTimeInterval returns the configured job monitoring time interval or its default value
func (cfg Configuration) JobMonitoringTimeInterval() time.Duration {
	d := cfg.Slurm.GetDuration("job_monitoring_time_interval")
	if d <= 0 {
		return DefaultJobMonitoringTimeInterval
	}
	return d
}

// DynamicMap allows to store configuration parameters that are not known in advance.
//
// It has methods to automatically cast data to the desired type.
type DynamicMap map[string]interface{}

// NewDynamicMapWithPayload returns a DynamicMap initialized with the given values.
//
// Keys are lower-cased as Viper does.
func NewDynamicMapWithPayload(payload map[string]interface{}) DynamicMap {
	dm := make(DynamicMap, len(payload))
	for k, v := range payload {
		dm[strings.ToLower(k)] = v
	}
	return dm
}

// Set sets a value for a given key
func (dm DynamicMap) Set(name string, value interface{}) {
	dm[strings.ToLower(name)] = value
}

// IsSet checks if a given configuration key is defined
func (dm DynamicMap) IsSet(name string) bool {
	_, ok := dm[strings.ToLower(name)]
	return ok
}

// Get returns the raw value of a given configuration key
func (dm DynamicMap) Get(name string) interface{} {
	return dm[strings.ToLower(name)]
}

// GetString returns the value of the given key casted into a string.
// An empty string is returned if not found.
func (dm DynamicMap) GetString(name string) string {
	return cast.ToString(dm.Get(name))
}

// GetStringOrDefault returns the value of the given key casted into a string.
// The given default value is returned if not found.
func (dm DynamicMap) GetStringOrDefault(name, defaultValue string) string {
	if res := dm.GetString(name); res != "" {
		return res
	}
	return defaultValue
}

// GetBool returns the value of the given key casted into a boolean.
// False is returned if not found.
func (dm DynamicMap) GetBool(name string) bool {
	return cast.ToBool(dm.Get(name))
}

// GetInt returns the value of the given key casted into an int.
// 0 is returned if not found.
func (dm DynamicMap) GetInt(name string) int {
	return cast.ToInt(dm.Get(name))
}

// GetIntOrDefault returns the value of the given key casted into an int.
// The given default value is returned if not found.
func (dm DynamicMap) GetIntOrDefault(name string, defaultValue int) int {
	if !dm.IsSet(name) {
		return defaultValue
	}
	return dm.GetInt(name)
}

// GetDuration returns the value of the given key casted into a Duration.
// A 0 duration is returned if not found.
func (dm DynamicMap) GetDuration(name string) time.Duration {
	return cast.ToDuration(dm.Get(name))
}

// GetStringSlice returns the value of the given key casted into a slice of string.
// If the corresponding raw value is a string, it is  splited on comas.
// A nil or empty slice is returned if not found.
func (dm DynamicMap) GetStringSlice(name string) []string {
	switch v := dm.Get(name).(type) {
	case string:
		return strings.Split(v, ",")
	default:
		return cast.ToStringSlice(v)
	}
}
