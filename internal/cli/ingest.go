package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/store"
	"github.com/roach88/mutrec/internal/zset"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
}

// IngestFile is the YAML document read by the ingest command.
type IngestFile struct {
	Relations []RelationDecl `yaml:"relations"`
	Changes   []ChangeDecl   `yaml:"changes"`
}

// RelationDecl declares a base relation.
type RelationDecl struct {
	Name    string       `yaml:"name"`
	Columns []ColumnDecl `yaml:"columns"`
}

// ColumnDecl declares one column of a base relation.
type ColumnDecl struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
}

// ChangeDecl lists rows inserted into and deleted from one relation.
type ChangeDecl struct {
	Relation string  `yaml:"relation"`
	Insert   [][]any `yaml:"insert"`
	Delete   [][]any `yaml:"delete"`
}

// IngestResult reports what an ingest appended.
type IngestResult struct {
	Defined []string         `json:"defined"`
	Changes []IngestedChange `json:"changes"`
}

// IngestedChange is one appended change.
type IngestedChange struct {
	Relation string `json:"relation"`
	Seq      int64  `json:"seq"`
	Inserted int    `json:"inserted"`
	Deleted  int    `json:"deleted"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <updates.yaml>",
		Short: "Define relations and append updates to a database",
		Long: `Define base relations and append row updates to a SQLite database.

The file declares relations and then lists changes. Each change is
appended under its own sequence number, which "mutrec run --follow"
picks up on its next poll. Use "-" to read from stdin.

  relations:
    - name: edges
      columns:
        - {name: src, type: int}
        - {name: dst, type: int}
  changes:
    - relation: edges
      insert: [[1, 2], [2, 3]]
      delete: [[5, 6]]

Example:
  mutrec ingest --db ./mutrec.db ./updates.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read updates", err)
	}
	file, err := ParseIngestFile(data)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid updates file", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := ingest(ctx, st, file)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "ingest failed", err)
	}
	logger.Info("ingested updates", "relations", len(result.Defined), "changes", len(result.Changes))

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	for _, name := range result.Defined {
		typ, _ := st.Relation(name)
		fmt.Fprintf(formatter.Writer, "defined %s %s\n", name, typ.TypeList())
	}
	for _, c := range result.Changes {
		fmt.Fprintf(formatter.Writer, "%s: +%d -%d at seq %d\n", c.Relation, c.Inserted, c.Deleted, c.Seq)
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// ParseIngestFile decodes and checks an updates document.
func ParseIngestFile(data []byte) (*IngestFile, error) {
	var f IngestFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse updates: %w", err)
	}
	if len(f.Relations) == 0 && len(f.Changes) == 0 {
		return nil, fmt.Errorf("updates file declares no relations and no changes")
	}
	for i, r := range f.Relations {
		if r.Name == "" {
			return nil, fmt.Errorf("relations[%d]: name is required", i)
		}
		if len(r.Columns) == 0 {
			return nil, fmt.Errorf("relations[%d]: %s must declare at least one column", i, r.Name)
		}
	}
	for i, c := range f.Changes {
		if c.Relation == "" {
			return nil, fmt.Errorf("changes[%d]: relation is required", i)
		}
		if len(c.Insert) == 0 && len(c.Delete) == 0 {
			return nil, fmt.Errorf("changes[%d]: insert or delete is required", i)
		}
	}
	return &f, nil
}

// relationType converts a declaration to a relation type.
func (r RelationDecl) relationType() (ir.RelationType, error) {
	cols := make([]ir.Column, len(r.Columns))
	for i, c := range r.Columns {
		if c.Name == "" {
			return ir.RelationType{}, fmt.Errorf("relation %s column %d: name is required", r.Name, i)
		}
		t, err := ir.ParseScalarType(c.Type)
		if err != nil {
			return ir.RelationType{}, fmt.Errorf("relation %s column %s: %w", r.Name, c.Name, err)
		}
		cols[i] = ir.Column{Name: c.Name, Type: t, Nullable: c.Nullable}
	}
	return ir.NewRelationType(cols...), nil
}

func ingest(ctx context.Context, st *store.Store, f *IngestFile) (*IngestResult, error) {
	result := &IngestResult{Defined: []string{}, Changes: []IngestedChange{}}
	for _, decl := range f.Relations {
		typ, err := decl.relationType()
		if err != nil {
			return nil, err
		}
		if err := st.DefineRelation(ctx, decl.Name, typ); err != nil {
			return nil, err
		}
		result.Defined = append(result.Defined, decl.Name)
	}
	for i, c := range f.Changes {
		inserts, err := nativeRows(c.Insert)
		if err != nil {
			return nil, fmt.Errorf("changes[%d] insert: %w", i, err)
		}
		deletes, err := nativeRows(c.Delete)
		if err != nil {
			return nil, fmt.Errorf("changes[%d] delete: %w", i, err)
		}
		seq, err := st.AppendUpdates(ctx, c.Relation, zset.Concat(inserts, zset.Negate(deletes)))
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		result.Changes = append(result.Changes, IngestedChange{
			Relation: c.Relation,
			Seq:      seq,
			Inserted: len(c.Insert),
			Deleted:  len(c.Delete),
		})
	}
	return result, nil
}

// nativeRows converts decoded YAML rows to a batch.
func nativeRows(rows [][]any) (zset.Batch, error) {
	out := make([]ir.Row, len(rows))
	for i, vals := range rows {
		row := make(ir.Row, len(vals))
		for j, x := range vals {
			v, err := ir.FromNative(x)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			row[j] = v
		}
		out[i] = row
	}
	return zset.FromRows(out...), nil
}
