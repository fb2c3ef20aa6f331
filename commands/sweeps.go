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
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ystia/slurmsweep/helper/tabutil"
	"github.com/ystia/slurmsweep/launcher"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/sweeps"
)

func init() {
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(showCmd)

	var printSeed, printCommand bool
	var resolveCmd = &cobra.Command{
		Use:   "resolve <sweep> [index]",
		Short: "Print the configuration selected by an array task index",
		Long: `Print the configuration path selected by an array task index.
The index defaults to the value of the SLURM_ARRAY_TASK_ID environment variable.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			index, err := indexFromArgs(args)
			if err != nil {
				return err
			}
			return a.resolve(args[0], index, printSeed, printCommand)
		},
	}
	resolveCmd.Flags().BoolVar(&printSeed, "seed", false, "Print the seed instead of the configuration path")
	resolveCmd.Flags().BoolVar(&printCommand, "command", false, "Print the trainer command line instead of the configuration path")
	RootCmd.AddCommand(resolveCmd)

	var useLauncher bool
	var indicesExpr, outputFile string
	var renderCmd = &cobra.Command{
		Use:   "render <sweep>",
		Short: "Render the batch script of a sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			script, err := a.render(args[0], indicesExpr, useLauncher)
			if err != nil {
				return err
			}
			if outputFile == "" {
				fmt.Fprint(a.out, script)
				return nil
			}
			return errors.Wrapf(ioutil.WriteFile(outputFile, []byte(script), 0750), "failed to write %q", outputFile)
		},
	}
	renderCmd.Flags().BoolVar(&useLauncher, "launcher", false, `Render a script delegating the selection to "slurmsweep exec"`)
	renderCmd.Flags().StringVarP(&indicesExpr, "indices", "i", "", `Array indices to run (ie "1-3,5" or "1-5%2"), all by default`)
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the script to this file instead of the standard output")
	RootCmd.AddCommand(renderCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List available sweeps",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		a.list()
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <sweep>",
	Short: "Show the configuration selected by each array task of a sweep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return a.show(args[0])
	},
}

// indexFromArgs returns the index given as second argument or read from the Slurm environment
func indexFromArgs(args []string) (int, error) {
	if len(args) < 2 {
		return launcher.IndexFromEnv(os.Environ())
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, errors.Errorf("invalid array index %q", args[1])
	}
	return index, nil
}

func (a *app) list() {
	table := tabutil.NewTable()
	table.AddHeaders("Name", "Tasks", "Entry point", "Partition", "Description")
	for _, s := range a.catalog.Sweeps() {
		table.AddRow(s.Name, s.Len(), s.Trainer.EntryPoint, s.Job.Partition, s.Description)
	}
	fmt.Fprintln(a.out, "Sweeps:")
	fmt.Fprintln(a.out, table.Render())
}

func (a *app) show(name string) error {
	s, err := a.catalog.Get(name)
	if err != nil {
		return err
	}
	selections, err := s.ResolveAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sweep: %s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(a.out, "  %s\n", s.Description)
	}
	fmt.Fprintf(a.out, "Job name: %s\n", s.JobName())
	fmt.Fprintf(a.out, "Array: %s\n", s.ArraySpec())
	fmt.Fprintf(a.out, "Options: %s\n", shellquote.Join(slurm.BuildOptions(s.Job)...))
	if activation := slurm.Activation(s.Environment); activation != "" {
		fmt.Fprintf(a.out, "Environment: %s %s\n", s.Environment.Manager, s.Environment.Name)
	}

	table := tabutil.NewTable()
	table.AddHeaders("Index", "Seed", "Config", "Command")
	for _, sel := range selections {
		seed := "-"
		if sel.HasSeed {
			seed = strconv.Itoa(sel.Seed)
		}
		table.AddRow(sel.Index, seed, sel.Path, shellquote.Join(s.Command(sel)...))
	}
	fmt.Fprintln(a.out, table.Render())
	return nil
}

func (a *app) resolve(name string, index int, printSeed, printCommand bool) error {
	s, err := a.catalog.Get(name)
	if err != nil {
		return err
	}
	sel, err := s.Resolve(index)
	if err != nil {
		return err
	}
	switch {
	case printSeed:
		if !sel.HasSeed {
			return errors.Errorf("sweep %q enumerates configuration files, not seeds", s.Name)
		}
		fmt.Fprintln(a.out, sel.Seed)
	case printCommand:
		fmt.Fprintln(a.out, shellquote.Join(s.Command(sel)...))
	default:
		fmt.Fprintln(a.out, sel.Path)
	}
	return nil
}

func (a *app) renderOptions(s *sweeps.Sweep, indicesExpr string) (slurm.RenderOptions, error) {
	opts := slurm.RenderOptions{SweepsFile: a.cfg.SweepsFile}
	if indicesExpr != "" {
		indices, throttle, err := sweeps.ParseArray(indicesExpr, s.Len())
		if err != nil {
			return opts, errors.Wrapf(err, "invalid indices for sweep %q", s.Name)
		}
		opts.Indices = indices
		opts.Throttle = throttle
	}
	opts.Launcher = a.cfg.Slurm.GetString("launcher_path")
	if opts.Launcher == "" && !a.cfg.IsRemote() {
		if exe, err := os.Executable(); err == nil {
			opts.Launcher = exe
		}
	}
	return opts, nil
}

func (a *app) render(name, indicesExpr string, useLauncher bool) (string, error) {
	s, err := a.catalog.Get(name)
	if err != nil {
		return "", err
	}
	opts, err := a.renderOptions(s, indicesExpr)
	if err != nil {
		return "", err
	}
	if useLauncher {
		return slurm.RenderLauncher(s, opts)
	}
	return slurm.Render(s, opts)
}
