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

package commands

import (
	"os"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/log"
)

// slurmFlags are the flags overriding keys of the slurm configuration section
var slurmFlags = []struct {
	name, usage string
}{
	{"host", "Slurm login node, Slurm commands are run locally when empty"},
	{"user_name", "User name used to connect to the Slurm login node"},
	{"private_key", "Path or content of the private key used to connect to the Slurm login node"},
	{"remote_dir", "Directory where batch scripts are staged, relative to the home directory on the login node"},
	{"project_dir", "Directory jobs are submitted and run from, trainer entry points and configurations are relative to it (default is the current directory when running locally)"},
}

func setConfig() {
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default is config.slurmsweep.[json|yaml] in /etc/slurmsweep/, ~/.slurmsweep/ or the current directory)")
	flags.BoolVar(&noColor, "no_color", false, "Disable coloring output")
	flags.Bool("debug", false, "Enable debug logs")
	flags.StringP("working_directory", "w", config.DefaultWorkingDirectory, "Local directory where slurmsweep stores its data")
	flags.StringP("sweeps_file", "f", "", "YAML file defining sweeps, merged into the built-in ones")
	flags.String("store", config.DefaultStore, `Submission records backend, "file" or "consul"`)
	flags.String("consul_address", "", "Address of the HTTP interface of Consul (format: <host>:<port>)")
	flags.String("consul_token", "", "Consul ACL token")
	flags.String("consul_datacenter", "", "Consul datacenter")
	flags.String("consul_key_prefix", config.DefaultConsulKeyPrefix, "Consul KV prefix of submission records")
	for _, f := range slurmFlags {
		flags.String("slurm_"+f.name, "", f.usage)
	}
	flags.Int("slurm_port", 0, "SSH port of the Slurm login node")

	viper.BindPFlag("debug", flags.Lookup("debug"))
	viper.BindPFlag("working_directory", flags.Lookup("working_directory"))
	viper.BindPFlag("sweeps_file", flags.Lookup("sweeps_file"))
	viper.BindPFlag("store", flags.Lookup("store"))
	viper.BindPFlag("consul_address", flags.Lookup("consul_address"))
	viper.BindPFlag("consul_token", flags.Lookup("consul_token"))
	viper.BindPFlag("consul_datacenter", flags.Lookup("consul_datacenter"))
	viper.BindPFlag("consul_key_prefix", flags.Lookup("consul_key_prefix"))

	//Environment Variables
	viper.SetEnvPrefix("slurmsweep") // will be uppercased automatically - Become "SLURMSWEEP_"
	viper.AutomaticEnv()             // read in environment variables that match
	viper.BindEnv("consul_address", "CONSUL_HTTP_ADDR")
	viper.BindEnv("consul_token", "CONSUL_HTTP_TOKEN")
	viper.BindEnv("consul_datacenter")
	viper.BindEnv("consul_key_prefix")

	//Setting Defaults
	viper.SetDefault("working_directory", config.DefaultWorkingDirectory)
	viper.SetDefault("store", config.DefaultStore)
	viper.SetDefault("consul_key_prefix", config.DefaultConsulKeyPrefix)

	//Configuration file directories
	viper.SetConfigName("config.slurmsweep") // name of config file (without extension)
	viper.AddConfigPath("/etc/slurmsweep/")
	viper.AddConfigPath("$HOME/.slurmsweep")
	viper.AddConfigPath(".")
}

func initConfig() {
	if cfgFile != "" {
		// enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugln("Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
		log.Println("Can't use config file:", err)
	}
	if viper.GetBool("debug") {
		log.SetDebug(true)
	}
}

func getConfig() config.Configuration {
	configuration := config.Configuration{}
	configuration.WorkingDirectory = viper.GetString("working_directory")
	configuration.SweepsFile = viper.GetString("sweeps_file")
	configuration.Store = viper.GetString("store")
	configuration.ConsulAddress = viper.GetString("consul_address")
	configuration.ConsulToken = viper.GetString("consul_token")
	configuration.ConsulDatacenter = viper.GetString("consul_datacenter")
	configuration.ConsulKeyPrefix = viper.GetString("consul_key_prefix")
	configuration.Telemetry = config.Telemetry{
		StatsdAddress:   viper.GetString("telemetry.statsd_address"),
		StatsiteAddress: viper.GetString("telemetry.statsite_address"),
		ServiceName:     viper.GetString("telemetry.service_name"),
		DisableHostName: viper.GetBool("telemetry.disable_hostname"),
	}
	configuration.Slurm = getSlurmConfig(viper.GetStringMap("slurm"), RootCmd.PersistentFlags(), os.LookupEnv)
	return configuration
}

// getSlurmConfig merges the slurm section of the config file with SLURMSWEEP_SLURM_* environment
// variables and slurm_* flags, flags taking precedence.
func getSlurmConfig(fileSection map[string]interface{}, flags *pflag.FlagSet, lookupEnv func(string) (string, bool)) config.DynamicMap {
	slurm := config.NewDynamicMapWithPayload(fileSection)
	names := []string{"port", "password", "sbatch_path", "scontrol_path", "scancel_path", "sacct_path", "job_monitoring_time_interval", "submit_retries", "sbatch_options"}
	for _, f := range slurmFlags {
		names = append(names, f.name)
	}
	for _, name := range names {
		if v, ok := lookupEnv("SLURMSWEEP_SLURM_" + strings.ToUpper(name)); ok {
			slurm.Set(name, v)
		}
		if flags.Changed("slurm_" + name) {
			slurm.Set(name, flags.Lookup("slurm_"+name).Value.String())
		}
	}
	if port, err := cast.ToIntE(slurm.Get("port")); err == nil && slurm.IsSet("port") {
		slurm.Set("port", port)
	}
	return slurm
}
