// Package records provides the operator commands that read and modify stored
// documents: find, consume, upsert, destroy, revoke and index provisioning.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/grantstore/pkg/config"
	"github.com/nimburion/grantstore/pkg/grantstore"
	"github.com/nimburion/grantstore/pkg/observability/logger"
	"github.com/nimburion/grantstore/pkg/store"
)

// ErrNotFound is returned by find when no document has the id.
var ErrNotFound = errors.New("record not found")

// DialerFactory builds the engine dialer for a store configuration.
type DialerFactory func(cfg config.StoreConfig, log logger.Logger) (grantstore.Dialer, error)

// Options wires the commands to the host CLI.
type Options struct {
	LoadConfig func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error)
	NewDialer  DialerFactory
}

// Cosa fa: costruisce il comando "records" con i sottocomandi sui documenti.
// Cosa NON fa: non mantiene la connessione tra un'invocazione e l'altra.
// Esempio minimo: root.AddCommand(records.NewCommand(records.Options{LoadConfig: load}))
func NewCommand(opts Options) *cobra.Command {
	if opts.NewDialer == nil {
		opts.NewDialer = store.NewDialer
	}

	var timeout time.Duration
	var models []string
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and modify stored records",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "max time to wait for the store connection")
	cmd.PersistentFlags().StringSliceVar(&models, "models", grantstore.ProviderModels, "entity types swept by grant cascades")

	// register makes every cascade target known to this short-lived store.
	register := func(st *grantstore.Store) {
		for _, model := range models {
			st.Model(model)
		}
	}

	run := func(fn func(ctx context.Context, st *grantstore.Store, out io.Writer) error, storeOpts ...grantstore.Option) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			cfg, log, err := opts.LoadConfig(c.Flags())
			if err != nil {
				return err
			}
			dial, err := opts.NewDialer(cfg.Store, log)
			if err != nil {
				return err
			}
			st, err := store.OpenReady(c.Context(), dial, cfg.Store, log, timeout, storeOpts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(st); err != nil {
					log.Warn("store close failed", "error", err)
				}
			}()
			return fn(c.Context(), st, c.OutOrStdout())
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "find <model> <id>",
		Short: "Print the record stored under id",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return run(func(ctx context.Context, st *grantstore.Store, out io.Writer) error {
				doc, err := st.Model(args[0]).Find(ctx, args[1])
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("%s %q: %w", args[0], args[1], ErrNotFound)
				}
				return writeJSON(out, doc)
			})(c, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "consume <model> <id>",
		Short: "Mark the record stored under id as consumed",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return run(func(ctx context.Context, st *grantstore.Store, out io.Writer) error {
				if err := st.Model(args[0]).Consume(ctx, args[1]); err != nil {
					return err
				}
				fmt.Fprintln(out, args[1])
				return nil
			})(c, args)
		},
	})

	var ttl time.Duration
	var payload string
	upsertCmd := &cobra.Command{
		Use:   "upsert <model> [id]",
		Short: "Store a JSON payload; a random id is used when none is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			doc, err := parsePayload(payload, c.InOrStdin())
			if err != nil {
				return err
			}
			id := uuid.NewString()
			if len(args) == 2 {
				id = args[1]
			}
			return run(func(ctx context.Context, st *grantstore.Store, out io.Writer) error {
				if err := st.Model(args[0]).Upsert(ctx, id, doc, ttl); err != nil {
					return err
				}
				fmt.Fprintln(out, id)
				return nil
			})(c, args)
		},
	}
	upsertCmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime of the record; zero stores it without expiry")
	upsertCmd.Flags().StringVar(&payload, "data", "", "JSON object to store; read from stdin when empty or \"-\"")
	cmd.AddCommand(upsertCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "destroy <model> <id>",
		Short: "Delete the record and, when it belongs to a grant, every record of that grant",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return run(func(ctx context.Context, st *grantstore.Store, out io.Writer) error {
				register(st)
				if err := st.Model(args[0]).Destroy(ctx, args[1]); err != nil {
					return err
				}
				fmt.Fprintln(out, args[1])
				return nil
			})(c, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <grant-id>",
		Short: "Delete every record of a grant from the --models collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(models) == 0 {
				return errors.New("at least one --models entry is required")
			}
			return run(func(ctx context.Context, st *grantstore.Store, out io.Writer) error {
				register(st)
				if err := st.RevokeGrant(ctx, args[0]); err != nil {
					var cascadeErr *grantstore.CascadeError
					if errors.As(err, &cascadeErr) {
						return fmt.Errorf("revoke failed for %s: %w", strings.Join(cascadeErr.FailedCollections(), ", "), err)
					}
					return err
				}
				fmt.Fprintln(out, args[0])
				return nil
			})(c, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "indexes [model...]",
		Short: "Provision the grantId and expiry indexes; defaults to --models",
		RunE: func(c *cobra.Command, args []string) error {
			targets := args
			if len(targets) == 0 {
				targets = models
			}
			names := make(map[string]struct{}, len(targets))
			for _, model := range targets {
				names[grantstore.CollectionName(model)] = struct{}{}
			}
			results := make(chan provisionResult, len(names))
			hook := grantstore.WithProvisionHook(func(collection string, err error) {
				results <- provisionResult{collection: collection, err: err}
			})
			return run(func(ctx context.Context, st *grantstore.Store, out io.Writer) error {
				for _, model := range targets {
					st.Model(model)
				}
				return collectProvisioning(ctx, results, len(names), out)
			}, hook)(c, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "collection <model>",
		Short: "Print the collection name used for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			fmt.Fprintln(c.OutOrStdout(), grantstore.CollectionName(args[0]))
			return nil
		},
	})

	return cmd
}

type provisionResult struct {
	collection string
	err        error
}

func collectProvisioning(ctx context.Context, results <-chan provisionResult, want int, out io.Writer) error {
	var errs []error
	for i := 0; i < want; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				fmt.Fprintf(out, "%s: %v\n", res.collection, res.err)
				errs = append(errs, res.err)
				continue
			}
			fmt.Fprintf(out, "%s: ok\n", res.collection)
		case <-ctx.Done():
			return fmt.Errorf("index provisioning: %w", ctx.Err())
		}
	}
	return errors.Join(errs...)
}

func parsePayload(raw string, stdin io.Reader) (grantstore.Document, error) {
	data := []byte(raw)
	if raw == "" || raw == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	var doc grantstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if doc == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	return doc, nil
}

func writeJSON(out io.Writer, doc grantstore.Document) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
