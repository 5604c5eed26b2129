package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/monkeyml/eval"
	"github.com/petal-labs/monkeyml/session"
	"github.com/petal-labs/monkeyml/template"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a script file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringArray("var", nil, "Bind a variable before running (repeatable, name=value)")
	cmd.Flags().Bool("print-result", false, "Print the value of the last statement")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	vars, _ := cmd.Flags().GetStringArray("var")
	assignments, err := parseAssignments("var", vars)
	if err != nil {
		return err
	}
	seed := make(map[string]eval.Value, len(assignments))
	for name, value := range assignments {
		seed[name] = template.ParseValue(value)
	}

	src, err := readSource(filePath)
	if err != nil {
		return err
	}

	sess := session.New(session.OriginScript, session.Options{
		Name: filePath,
		Seed: seed,
	})

	out := bufio.NewWriter(cmd.OutOrStdout())
	result, err := sess.Eval(src, out)
	sess.Close(err)
	if flushErr := out.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if err != nil {
		return evalExitError(filePath, err)
	}

	printResult, _ := cmd.Flags().GetBool("print-result")
	if printResult && result != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "-> %s\n", result)
	}
	return nil
}

// readSource reads a script or template file, mapping a missing file to
// exit code 3.
func readSource(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI argument
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", exitError(exitFileNotFound, "file not found: %s", path)
		}
		return "", exitError(exitFileNotFound, "reading %s: %v", path, err)
	}
	return string(data), nil
}
