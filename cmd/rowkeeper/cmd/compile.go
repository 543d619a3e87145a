package cmd

import (
	"database/sql/driver"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/rowkeeper/internal/authz"
	"github.com/solatis/rowkeeper/internal/types"
)

var compileCmd = &cobra.Command{
	Use:   "compile <decision.json|->",
	Short: "Compile a decision document into a SQL filter",
	Long: `Reads a policy decision in concise residual-rule format and prints the
SQL fragment and its bound arguments. Exits non-zero if the decision cannot
be compiled; such a decision must be treated as a denial.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().String("dialect", "postgres", "SQL dialect (postgres, sqlite)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("dialect")
	dialect, err := authz.DialectForDriver(name)
	if err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	decision, err := types.ParseDecision(data)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg.Authz, dialect)
	if err != nil {
		return err
	}
	frag, filtered, err := engine.Filter(decision)
	if err != nil {
		return fmt.Errorf("decision rejected (fingerprint %s): %w", authz.Fingerprint(decision), err)
	}

	out := cmd.OutOrStdout()
	if !filtered {
		fmt.Fprintln(out, "-- unconditional allow; no filter needed")
	}
	fmt.Fprintln(out, frag.SQL)
	for i, arg := range frag.Args {
		if v, ok := arg.(driver.Valuer); ok {
			if arg, err = v.Value(); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "-- %d: %v\n", i+1, arg)
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read decision: %w", err)
	}
	return data, nil
}
