package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"orgdesk/internal/engine/bootstrap"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/database"
	"orgdesk/internal/platform/repositories"
)

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	config.RegisterFlags(flags)
	orgName := flags.String("bootstrap-org", "", "Create an organization with this name after migrating")
	deptName := flags.String("root-department", "", "Root department name (defaults to the organization name)")
	adminEmail := flags.String("admin-email", "", "Email of the bootstrap administrator")
	flags.Parse(os.Args[1:])

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Logging)

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Str("dialect", db.Dialect.String()).Msg("Migration completed successfully")

	if *orgName == "" {
		return
	}

	// The password is read from the environment so it stays out of shell history.
	password := os.Getenv("ORGDESK_ADMIN_PASSWORD")
	seeder := bootstrap.NewSeeder(
		db,
		repositories.NewOrganizationRepository(db),
		repositories.NewDepartmentRepository(db),
		repositories.NewUserRepository(db),
		repositories.NewPermissionRepository(db),
		crypto.NewHasher(0),
	)
	res, err := seeder.Organization(ctx, bootstrap.Options{
		OrganizationName: *orgName,
		DepartmentName:   *deptName,
		AdminEmail:       *adminEmail,
		AdminPassword:    password,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Bootstrap failed")
	}
	log.Info().
		Str("org_id", res.Organization.ID).
		Str("department_id", res.Department.ID).
		Str("admin_id", res.Admin.ID).
		Msg("Bootstrap completed")
}
