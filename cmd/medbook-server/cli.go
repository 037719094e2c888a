package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/medbook/medbook/internal/config"
	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func tenantOrDefault(tenant string, cfg *config.Config) string {
	if tenant == "" {
		return cfg.DefaultTenant
	}
	return tenant
}

func migrateCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations for a tenant schema",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant id (defaults to DEFAULT_TENANT)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			t := tenantOrDefault(tenant, cfg)
			if err := db.MigrateUp(cfg.DatabaseURL, t); err != nil {
				return err
			}
			fmt.Printf("migrations applied to tenant %s\n", t)
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			t := tenantOrDefault(tenant, cfg)
			if err := db.MigrateDown(cfg.DatabaseURL, t, steps); err != nil {
				return err
			}
			fmt.Printf("rolled back %d migration(s) on tenant %s\n", steps, t)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			v, dirty, err := db.MigrationVersion(cfg.DatabaseURL, tenantOrDefault(tenant, cfg))
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, down, ver)
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and migrate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.CreateTenantSchema(ctx, pool, cfg.DatabaseURL, name); err != nil {
				return err
			}
			fmt.Printf("tenant %s created\n", name)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "tenant id")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Reminder scheduler operations",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a single reminder scan over all configured tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeFn, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			return printJSON(a.reminders.RunOnce(ctx))
		},
	}

	cmd.AddCommand(run)
	return cmd
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Notification maintenance",
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete notifications older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeFn, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			return printJSON(a.reminders.PurgeOnce(ctx))
		},
	}

	cmd.AddCommand(purge)
	return cmd
}

func usersCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Provision accounts",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant id (defaults to DEFAULT_TENANT)")

	var u identity.User
	var phone string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a patient, doctor or admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeFn, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			if phone != "" {
				u.Phone = &phone
			}
			err = db.WithTenant(ctx, a.pool, tenantOrDefault(tenant, a.cfg), func(ctx context.Context) error {
				return a.identity.CreateUser(ctx, &u)
			})
			if err != nil {
				return err
			}
			return printJSON(u)
		},
	}
	create.Flags().StringVar(&u.Role, "role", auth.RolePatient, "patient, doctor or admin")
	create.Flags().StringVar(&u.FirstName, "first-name", "", "first name")
	create.Flags().StringVar(&u.LastName, "last-name", "", "last name")
	create.Flags().StringVar(&u.Email, "email", "", "email address")
	create.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = create.MarkFlagRequired("email")

	var id string
	var chatID int64
	link := &cobra.Command{
		Use:   "link-telegram",
		Short: "Set or clear the Telegram chat used for a user's notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			ctx := cmd.Context()
			a, closeFn, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			var chat *int64
			if chatID != 0 {
				chat = &chatID
			}
			err = db.WithTenant(ctx, a.pool, tenantOrDefault(tenant, a.cfg), func(ctx context.Context) error {
				return a.identity.LinkTelegram(ctx, uid, chat)
			})
			if err != nil {
				return err
			}
			if chat == nil {
				fmt.Printf("telegram unlinked for %s\n", uid)
			} else {
				fmt.Printf("telegram chat %d linked to %s\n", chatID, uid)
			}
			return nil
		},
	}
	link.Flags().StringVar(&id, "id", "", "user id")
	link.Flags().Int64Var(&chatID, "chat-id", 0, "telegram chat id, 0 to unlink")
	_ = link.MarkFlagRequired("id")

	cmd.AddCommand(create, link)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token utilities",
	}

	var (
		userID string
		role   string
		tenant string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			tok, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, uid, role, tenantOrDefault(tenant, cfg), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id")
	issue.Flags().StringVar(&role, "role", auth.RolePatient, "role claim")
	issue.Flags().StringVar(&tenant, "tenant", "", "tenant claim (defaults to DEFAULT_TENANT)")
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}
