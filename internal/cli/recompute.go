package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/irmahq/irma/internal/derive"
	"github.com/irmahq/irma/internal/schema"
	"github.com/irmahq/irma/internal/store"
)

// RecomputeResult summarizes one recompute sweep.
type RecomputeResult struct {
	Entity     string `json:"entity"`
	Field      string `json:"field"`
	Partitions int    `json:"partitions"`
	Updates    int    `json:"updates"`
}

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath     string
		schemasDir string
	)

	cmd := &cobra.Command{
		Use:   "recompute <entity> <field> [partition-key]",
		Short: "Recompute derived values from stored records",
		Long: `Recompute a derived field over stored records, partition by
partition. With a partition key only that partition is recomputed;
without one, every partition of the entity is swept.

Useful after restoring a database or registering a changed transform.`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var part string
			if len(args) == 3 {
				part = args[2]
			}
			return runRecompute(rootOpts, dbPath, schemasDir, args[0], args[1], part, len(args) == 3, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "irma.db", "path to the SQLite database")
	cmd.Flags().StringVar(&schemasDir, "schemas", "./schemas", "directory with CUE entity definitions")

	return cmd
}

func runRecompute(opts *RootOptions, dbPath, schemasDir, entity, field, partition string, havePartition bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, loadErrors := LoadSchemas(schemasDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return schemaLoadFailure(formatter, loadErrors[0])
	}

	spec, ok := result.Registry.Lookup(entity)
	if !ok {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("unknown entity type %q", entity), nil)
		return NewExitError(ExitCommandError, "unknown entity type")
	}
	ds, ok := spec.DerivedTarget(field)
	if !ok {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("%s has no derived field %q", entity, field), nil)
		return NewExitError(ExitCommandError, "unknown derived field")
	}

	st, err := store.Open(dbPath, result.Registry)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var parts []schema.Value
	if havePartition {
		keyAttr, _ := spec.Attribute(ds.PartitionKey)
		part, perr := partitionValue(keyAttr.Type, partition)
		if perr != nil {
			_ = formatter.Error(ErrCodeGeneric, perr.Error(), nil)
			return WrapExitError(ExitCommandError, "bad partition key", perr)
		}
		parts = []schema.Value{part}
	} else {
		parts, err = st.Partitions(ctx, entity, *ds)
		if err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "listing partitions", err)
		}
	}

	total := 0
	for _, part := range parts {
		rows, err := st.PartitionRows(ctx, entity, *ds, part)
		if err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "reading partition", err)
		}

		updates, err := derive.Recompute(entity, *ds, rows)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "recompute failed", err)
		}
		if err := st.ApplyDerived(ctx, entity, updates); err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "persisting updates", err)
		}

		formatter.VerboseLog("Recomputed partition %s (%d row(s))", schema.Key(part), len(rows))
		total += len(updates)
	}

	res := RecomputeResult{Entity: entity, Field: field, Partitions: len(parts), Updates: total}
	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ Recomputed %s.%s: %d partition(s), %d update(s)\n",
		entity, field, res.Partitions, res.Updates)
	return nil
}

// partitionValue interprets the partition argument under the partition
// key's declared type. The store compares typed JSON scalars, so a text
// "7" would never match an integer partition key.
func partitionValue(t schema.SemanticType, arg string) (schema.Value, error) {
	switch t {
	case schema.TypeInt:
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("partition key is %s: %w", t, err)
		}
		return schema.Int(n), nil
	case schema.TypeNumber:
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("partition key is %s: %w", t, err)
		}
		return schema.Float(f), nil
	case schema.TypeBool:
		b, err := strconv.ParseBool(arg)
		if err != nil {
			return nil, fmt.Errorf("partition key is %s: %w", t, err)
		}
		return schema.Bool(b), nil
	case schema.TypeDate:
		v, err := schema.ParseTime(arg)
		if err != nil {
			return nil, fmt.Errorf("partition key is %s: %w", t, err)
		}
		return v, nil
	default:
		return schema.String(arg), nil
	}
}
