package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"afterimage/internal/audit"
	"afterimage/internal/gate"
	jwttoken "afterimage/internal/jwt_token"
	"afterimage/internal/ledger"
	"afterimage/internal/ledger/export"
	"afterimage/internal/platform/config"
	"afterimage/internal/platform/logger"
	"afterimage/internal/scope"
	"afterimage/internal/storage"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// options holds flags shared by every command. Unset flags fall back to the
// same environment variables the server reads.
type options struct {
	store       string
	badgerPath  string
	databaseURL string
	catalogPath string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "afterimagectl",
		Short:         "Operator tooling for the Afterimage decision ledger",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.store, "store", "", "ledger store: memory, badger or postgres (default $LEDGER_STORE)")
	root.PersistentFlags().StringVar(&opts.badgerPath, "badger-path", "", "badger data directory (default $BADGER_PATH)")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "postgres DSN (default $DATABASE_URL)")
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "YAML file with extra weight and threshold tables (default $CATALOG_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newHeadCmd(opts),
		newVerifyCmd(opts),
		newReplayCmd(opts),
		newExportCmd(opts),
		newTokenCmd(),
	)
	return root
}

func (o *options) config() config.Config {
	cfg := config.FromEnv()
	if o.store != "" {
		cfg.Ledger.Store = o.store
	}
	if o.badgerPath != "" {
		cfg.Badger.Path = o.badgerPath
	}
	if o.databaseURL != "" {
		cfg.Postgres.DSN = o.databaseURL
	}
	if o.catalogPath != "" {
		cfg.Catalog.ParametersPath = o.catalogPath
	}
	return cfg
}

// session is an opened ledger plus the evaluator replay needs.
type session struct {
	ledger  *ledger.Ledger
	engine  *gate.Engine
	backend *storage.Backend
	logger  *slog.Logger
}

func (o *options) open(ctx context.Context) (*session, error) {
	cfg := o.config()
	log := logger.NewWithWriter(os.Stderr, o.logLevel)

	catalog, err := gate.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if cfg.Catalog.ParametersPath != "" {
		if err := catalog.LoadFile(cfg.Catalog.ParametersPath); err != nil {
			return nil, err
		}
	}
	engine := gate.NewEngine(catalog)

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(ctx, backend.Store, engine,
		ledger.WithLogger(log),
		ledger.WithSchemaVersion(cfg.Ledger.SchemaVersion),
		ledger.WithPageSize(cfg.Ledger.VerifyPageSize),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &session{ledger: l, engine: engine, backend: backend, logger: log}, nil
}

func (s *session) close() {
	if err := s.ledger.Close(); err != nil {
		s.logger.Error("ledger close failed", "error", err)
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("store close failed", "error", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// LEDGER COMMANDS
// =============================================================================

type headOutput struct {
	SequenceNo uint64 `json:"sequence_no"`
	Hash       string `json:"hash"`
}

func newHeadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the sequence number and hash of the latest record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			head := s.ledger.Head(cmd.Context())
			return writeJSON(cmd.OutOrStdout(), headOutput{SequenceNo: head.SequenceNo, Hash: head.Hash.String()})
		},
	}
}

// newVerifyCmd recomputes the chain. A broken chain exits non-zero after the
// report is printed so scripts can gate on it.
func newVerifyCmd(opts *options) *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute every hash in a range and check the chain links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			res, err := s.ledger.Verify(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid() {
				return fmt.Errorf("ledger broken at %d: %s", res.BrokenAt, res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first sequence number (0 means 1)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last sequence number (0 means head)")
	return cmd
}

func newReplayCmd(opts *options) *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Recompute score, gate and cooldown from persisted inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			replayer, err := audit.NewReplayer(s.ledger, s.engine, s.logger)
			if err != nil {
				return err
			}
			report, err := replayer.Replay(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Consistent() {
				return fmt.Errorf("%d fields no longer reproduce", len(report.Mismatches))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first sequence number (0 means 1)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last sequence number (0 means head)")
	return cmd
}

// newExportCmd writes records after --after as JSON lines. It is the offline
// counterpart of the Kafka exporter and shares its batching.
func newExportCmd(opts *options) *cobra.Command {
	var after uint64
	var batch int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write committed records as JSON lines to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			cursor := export.NewMemoryCursor()
			if err := cursor.Store(cmd.Context(), after); err != nil {
				return err
			}
			exporter, err := export.New(s.ledger, export.NewJSONLSink(cmd.OutOrStdout()), cursor,
				export.WithLogger(s.logger),
				export.WithBatchSize(batch),
			)
			if err != nil {
				return err
			}
			n, err := exporter.Sync(cmd.Context())
			if err != nil {
				return err
			}
			s.logger.Info("export complete", "records", n)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "export records with a sequence number greater than this")
	cmd.Flags().IntVar(&batch, "batch", 500, "records per read")
	return cmd
}

// =============================================================================
// TOKEN COMMAND
// =============================================================================

func newTokenCmd() *cobra.Command {
	var actor, tier string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an actor, signed with $JWT_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if actor == "" {
				return fmt.Errorf("--actor is required")
			}
			if tier != "" {
				parsed, err := scope.ParseTier(tier)
				if err != nil {
					return err
				}
				tier = string(parsed)
			}
			cfg := config.FromEnv()
			if cfg.Auth.JWTSigningKey == "" {
				return fmt.Errorf("JWT_SIGNING_KEY is not set")
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)
			token, err := svc.GenerateAccessToken(actor, tier, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor identifier (token subject)")
	cmd.Flags().StringVar(&tier, "tier", "", "tier claim; empty defers to the actor directory")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
