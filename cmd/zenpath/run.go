package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pbinitiative/zenpath/pkg/bpmn"
	"github.com/pbinitiative/zenpath/pkg/bpmn/exporter"
	"github.com/pbinitiative/zenpath/pkg/bpmn/model/bpmn20"
	"github.com/pbinitiative/zenpath/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpath/pkg/script/feel"
	"github.com/pbinitiative/zenpath/pkg/script/js"
)

var runCmd = &cobra.Command{
	Use:   "run [file.bpmn]",
	Short: "Run a process definition once and print the resulting state",
	Long:  `Loads a BPMN document, begins its first valid process and prints the state document as YAML. Manual and user tasks are completed as soon as they start unless --wait is given.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawVars := map[string]string{}
		if varsFile, _ := cmd.Flags().GetString("vars-file"); varsFile != "" {
			fromFile, err := readVariablesFile(varsFile)
			if err != nil {
				return fmt.Errorf("failed to read variables from %s: %w", varsFile, err)
			}
			maps.Copy(rawVars, fromFile)
		}
		fromFlags, _ := cmd.Flags().GetStringToString("var")
		maps.Copy(rawVars, fromFlags)
		wait, _ := cmd.Flags().GetBool("wait")
		doc, err := runOnce(cmd.Context(), args[0], rawVars, !wait)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(doc)
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringToString("var", nil, "Process variable as name=value, the value is parsed as YAML")
	runCmd.Flags().String("vars-file", "", "YAML document of process variables, --var takes precedence")
	runCmd.Flags().Bool("wait", false, "Leave manual and user tasks active instead of completing them")
}

func parseVariables(raw map[string]string) (map[string]any, error) {
	vars := make(map[string]any, len(raw))
	for name, value := range raw {
		var parsed any
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		vars[name] = parsed
	}
	return vars, nil
}

func runOnce(ctx context.Context, fileName string, rawVars map[string]string, autoComplete bool) ([]byte, error) {
	logger := hclog.Default()
	graph, err := bpmn20.LoadFromFile(fileName)
	if err != nil {
		return nil, err
	}
	vars, err := parseVariables(rawVars)
	if err != nil {
		return nil, err
	}
	jsRuntime, err := js.NewJsRuntime(ctx, 1, 1)
	if err != nil {
		return nil, err
	}

	var processErrs []error
	valid := func(ctx context.Context, element *bpmn20.Element, vars *runtime.Variables) (bool, error) {
		return true, nil
	}
	passThrough := func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables) error {
		return nil
	}
	delegates := &bpmn.Delegates{
		IsProcessStartValid: valid,
		IsEventStartValid:   valid,
		IsFlowValid:         feel.NewFlowPredicate(feel.NewFeelRuntime()),
		BusinessRuleTask:    passThrough,
		ReceiveTask:         passThrough,
		ScriptTask:          js.NewScriptTaskHandler(jsRuntime),
		SendTask:            passThrough,
		ServiceTask:         passThrough,
		Task:                passThrough,
		ManualTask: func(ctx context.Context, task *bpmn20.Element, vars *runtime.Variables, complete bpmn.CompleteFunc, fail bpmn.ErrorFunc) error {
			if autoComplete {
				return complete(nil)
			}
			return nil
		},
		UserTask: func(ctx context.Context, task *bpmn20.Element, lane *bpmn20.Element, vars *runtime.Variables, complete bpmn.CompleteFunc, fail bpmn.ErrorFunc) error {
			if autoComplete {
				return complete(nil)
			}
			return nil
		},
		OnProcessError: func(ctx context.Context, element *bpmn20.Element, err error) {
			processErrs = append(processErrs, err)
		},
	}
	bp, err := bpmn.NewBusinessProcess(graph,
		bpmn.WithDelegates(delegates),
		bpmn.WithLogger(logger.Named("bpmn")),
		bpmn.WithExporter(exporter.NewLogExporter(logger.Named("exporter"))),
	)
	if err != nil {
		return nil, err
	}
	activated, err := bp.BeginProcess(ctx, runtime.NewVariablesFromMap(vars))
	if err != nil {
		return nil, err
	}
	if !activated {
		return nil, fmt.Errorf("no process of %s could be started", fileName)
	}
	for _, task := range bp.ActiveTasks() {
		logger.Info("task waiting for completion", "task", task.Id)
	}
	doc, err := bp.SaveState()
	if err != nil {
		return nil, err
	}
	return doc, errors.Join(processErrs...)
}

// readVariablesFile reads a YAML mapping of variables, re-encoding each value
// so it is parsed the same way as a --var value.
func readVariablesFile(fileName string) (map[string]string, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	raw := make(map[string]string, len(values))
	for name, value := range values {
		encoded, err := yaml.Marshal(value)
		if err != nil {
			return nil, err
		}
		raw[name] = strings.TrimSpace(string(encoded))
	}
	return raw, nil
}
