// tenantctl is the operator console for registry and tenant database
// maintenance. It talks to the same database as the server and runs
// one command per invocation.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/clock"
	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/migration"
	"github.com/opencorehq/tenantcore/internal/observability"
	"github.com/opencorehq/tenantcore/internal/provisioner"
	provisionerdomain "github.com/opencorehq/tenantcore/internal/provisioner/domain"
	"github.com/opencorehq/tenantcore/internal/seed"
	"github.com/opencorehq/tenantcore/internal/tenant"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"github.com/opencorehq/tenantcore/pkg/db"
)

const usage = `usage: tenantctl <command> [flags]

commands:
  tenant:create            register a tenant from the console
  tenant:provision         run the provisioning saga for a tenant
  tenant:migrate           apply pending tenant schema migrations
  tenant:migrate-status    show the tenant schema version
  tenant:migrate-rollback  roll the tenant schema back one step
  db:migrate               apply registry migrations and seed defaults
  db:rollback              roll the registry schema back one step
  db:version               show the registry schema version
`

type services struct {
	fx.In

	DB          *gorm.DB
	Tenants     tenantdomain.Service
	Provisioner provisionerdomain.Service
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	exitCode := 0
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		tenant.Module,
		provisioner.Module,
		fx.Invoke(func(s services) {
			if err := runCommand(context.Background(), s, command, args); err != nil {
				fmt.Fprintf(os.Stderr, "tenantctl: %v\n", err)
				exitCode = 1
			}
		}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "tenantctl: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func runCommand(ctx context.Context, s services, command string, args []string) error {
	switch command {
	case "tenant:create":
		return tenantCreate(ctx, s, args)
	case "tenant:provision":
		return withTenantID(args, func(id snowflake.ID) error {
			result, err := s.Provisioner.Provision(ctx, id)
			if err != nil {
				return err
			}
			printProvisionResult(result)
			return nil
		})
	case "tenant:migrate":
		return withTenantID(args, func(id snowflake.ID) error {
			status, err := s.Provisioner.Migrate(ctx, id)
			if err != nil {
				return err
			}
			printMigrationStatus(status)
			return nil
		})
	case "tenant:migrate-status":
		return withTenantID(args, func(id snowflake.ID) error {
			status, err := s.Provisioner.MigrateStatus(ctx, id)
			if err != nil {
				return err
			}
			printMigrationStatus(status)
			return nil
		})
	case "tenant:migrate-rollback":
		return withTenantID(args, func(id snowflake.ID) error {
			status, err := s.Provisioner.MigrateRollback(ctx, id)
			if err != nil {
				return err
			}
			printMigrationStatus(status)
			return nil
		})
	case "db:migrate":
		return registryMigrate(s.DB)
	case "db:rollback":
		return withSQLDB(s.DB, migration.Rollback)
	case "db:version":
		return registryVersion(s.DB)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func tenantCreate(ctx context.Context, s services, args []string) error {
	fs := flag.NewFlagSet("tenant:create", flag.ContinueOnError)
	name := fs.String("name", "", "organization name")
	email := fs.String("email", "", "contact email")
	phone := fs.String("phone", "", "contact phone")
	subdomain := fs.String("subdomain", "", "requested subdomain")
	planID := fs.String("plan", "", "requested plan id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	created, err := s.Tenants.Register(ctx, tenantdomain.RegisterRequest{
		Name:      *name,
		Email:     *email,
		Phone:     *phone,
		Subdomain: *subdomain,
		PlanID:    *planID,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", created.ID)
	fmt.Fprintf(w, "uuid\t%s\n", created.UUID)
	fmt.Fprintf(w, "subdomain\t%s\n", created.Subdomain)
	fmt.Fprintf(w, "status\t%s\n", created.Status)
	return w.Flush()
}

func withTenantID(args []string, fn func(snowflake.ID) error) error {
	if len(args) < 1 {
		return fmt.Errorf("tenant id required")
	}
	id, err := snowflake.ParseString(args[0])
	if err != nil {
		return fmt.Errorf("invalid tenant id %q", args[0])
	}
	return fn(id)
}

func printProvisionResult(result *provisionerdomain.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "database\t%s\n", result.Database.Name)
	fmt.Fprintf(w, "status\t%s\n", result.Database.ProvisioningStatus)
	for _, step := range result.Steps {
		fmt.Fprintf(w, "step:%s\t%s\n", step.Step, step.Status)
	}
	if result.AdminEmail != "" {
		fmt.Fprintf(w, "admin_email\t%s\n", result.AdminEmail)
		// Shown once; the password is never stored in clear.
		fmt.Fprintf(w, "admin_password\t%s\n", result.AdminPassword)
	}
	w.Flush()
}

func printMigrationStatus(status *provisionerdomain.MigrationStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "tenant\t%s\n", status.TenantID)
	fmt.Fprintf(w, "version\t%d\n", status.Version)
	fmt.Fprintf(w, "dirty\t%t\n", status.Dirty)
	w.Flush()
}

func registryMigrate(conn *gorm.DB) error {
	if err := withSQLDB(conn, migration.RunMigrations); err != nil {
		return err
	}
	return seed.EnsureDefaults(conn)
}

func registryVersion(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, dirty, err := migration.Version(sqlDB)
	if err != nil {
		return err
	}
	fmt.Printf("version %d dirty %t\n", version, dirty)
	return nil
}

func withSQLDB(conn *gorm.DB, fn func(*sql.DB) error) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return fn(sqlDB)
}
