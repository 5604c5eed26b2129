package cli

import (
	"bytes"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/petal-labs/monkeyml/eval"
	"github.com/petal-labs/monkeyml/session"
	"github.com/petal-labs/monkeyml/template"
)

// NewRenderCmd creates the "render" subcommand.
func NewRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <file.ml>",
		Short: "Render a template to stdout",
		Long:  "Render a template the way the server would, with get and post bound from flags.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRender,
	}

	cmd.Flags().StringArray("get", nil, "Query parameter (repeatable, name=value)")
	cmd.Flags().StringArray("post", nil, "Form parameter (repeatable, name=value)")

	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	get, err := paramsFlag(cmd, "get")
	if err != nil {
		return err
	}
	post, err := paramsFlag(cmd, "post")
	if err != nil {
		return err
	}

	src, err := readSource(filePath)
	if err != nil {
		return err
	}
	prog, err := template.Parse(src)
	if err != nil {
		return exitError(exitParse, "%s: %v", filePath, err)
	}

	sess := session.New(session.OriginScript, session.Options{
		Name: filePath,
		Seed: map[string]eval.Value{"get": get, "post": post},
	})
	var buf bytes.Buffer
	_, err = sess.EvalProgram(prog, &buf)
	sess.Close(err)
	if err != nil {
		return evalExitError(filePath, err)
	}

	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func paramsFlag(cmd *cobra.Command, name string) (*eval.Hash, error) {
	pairs, _ := cmd.Flags().GetStringArray(name)
	values := url.Values{}
	for _, kv := range pairs {
		assignment, err := parseAssignments(name, []string{kv})
		if err != nil {
			return nil, err
		}
		for k, v := range assignment {
			values.Add(k, v)
		}
	}
	return template.Params(values), nil
}
