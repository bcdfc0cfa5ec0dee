package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/portalgate/internal/allowlist"
	"github.com/dropDatabas3/portalgate/internal/catalog"
	"github.com/dropDatabas3/portalgate/internal/config"
	"github.com/dropDatabas3/portalgate/internal/gate"
	"github.com/dropDatabas3/portalgate/internal/providercfg"
	"github.com/dropDatabas3/portalgate/internal/secrets"
	"github.com/dropDatabas3/portalgate/internal/widget"
)

func snapshot(cfg *config.Config) (*secrets.Section, error) {
	return secrets.FileSource{Path: cfg.Secrets.File}.Snapshot(context.Background())
}

// validate: chequea el snapshot como lo haría un ciclo del gate y lista todos
// los problemas juntos.
func newValidateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Valida la configuración del proveedor y el catálogo del secrets file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			snap, err := snapshot(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			pc, err := providercfg.Validate(snap)
			var probs providercfg.Problems
			if errors.As(err, &probs) {
				fmt.Fprintf(out, "provider config: INVALID (%d problems)\n", len(probs))
				for _, p := range probs {
					fmt.Fprintf(out, "  - %s\n", p)
				}
				return fmt.Errorf("validate: %w", providercfg.ErrInvalid)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "provider config: OK (%s)\n", pc.ProviderKey)
			red := pc.Redacted()
			keys := make([]string, 0, len(red))
			for k := range red {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s = %s\n", k, red[k])
			}

			if set, err := allowlist.FromSnapshot(snap, allowlist.DefaultSection); err != nil {
				fmt.Fprintf(out, "allowlist: unreadable (%v), policy %s\n", err, cfg.Gate.AllowlistOnError)
			} else if set.Empty() {
				fmt.Fprintln(out, "allowlist: empty, every authenticated identity is allowed")
			} else {
				fmt.Fprintf(out, "allowlist: %d emails, %d domains\n", len(set.Emails), len(set.Domains))
			}

			apps, appErrs := catalog.Load(snap)
			fmt.Fprintf(out, "catalog: %d apps\n", len(apps))
			for _, e := range appErrs {
				fmt.Fprintf(out, "  - %v\n", e)
			}
			return nil
		},
	}
}

func newAuthorizeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <email>",
		Short: "Evalúa el allowlist para un email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			snap, err := snapshot(cfg)
			if err != nil {
				return err
			}
			policy := allowlist.Policy{Section: allowlist.DefaultSection, OnReadError: gate.OnAllowlistReadError}
			if cfg.Gate.AllowlistOnError == "fail_closed" {
				policy.OnReadError = allowlist.FailClosed
			}
			dec := policy.Check(args[0], snap)
			verdict := "denied"
			if dec.Allowed {
				verdict = "allowed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", strings.TrimSpace(args[0]), verdict)
			if dec.ReadErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  allowlist unreadable (%v), applied %s\n", dec.ReadErr, policy.OnReadError)
			}
			return nil
		},
	}
}

// mint-token firma un identity token como el widget, para probar el gate
// sin el proxy delante.
func newMintTokenCmd(load loader) *cobra.Command {
	var (
		email string
		ttl   time.Duration
		raw   string
	)
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Firma un identity token de prueba con el cookie_secret configurado",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			snap, err := snapshot(cfg)
			if err != nil {
				return err
			}
			pc, err := providercfg.Validate(snap)
			if err != nil {
				return err
			}
			claims := map[string]any{}
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &claims); err != nil {
					return fmt.Errorf("--claims: %w", err)
				}
			}
			if email != "" {
				claims["email"] = email
			}
			tok, err := widget.MintToken(pc, claims, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "claim email")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "vigencia del token")
	cmd.Flags().StringVar(&raw, "claims", "", "claims extra en JSON")
	return cmd
}
