package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"lime/internal/pkg/mongodb"
	authrepo "lime/internal/repository/auth"
	"lime/internal/service"
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create an activated user",
	Long: `Create an activated user directly in MongoDB.
The password can be passed with --password or the LIME_NEW_USER_PASSWORD environment variable.`,
	RunE: runCreateUser,
}

func init() {
	rootCmd.AddCommand(createUserCmd)

	flags := createUserCmd.Flags()
	flags.StringP("username", "u", "admin", "username")
	flags.String("email", "", "email (optional)")
	flags.String("password", "", "password (default: $LIME_NEW_USER_PASSWORD)")
	flags.Bool("superuser", false, "grant superuser")
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	flags := cmd.Flags()

	username, _ := flags.GetString("username")
	email, _ := flags.GetString("email")
	superuser, _ := flags.GetBool("superuser")
	passwordPlain, _ := flags.GetString("password")
	if passwordPlain == "" {
		passwordPlain = os.Getenv("LIME_NEW_USER_PASSWORD")
	}
	if passwordPlain == "" {
		return errors.New("password is required (--password or LIME_NEW_USER_PASSWORD)")
	}

	ctx := context.Background()
	client, err := mongodb.New(ctx, &cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close(context.Background())
	}()

	db := client.Database()
	if err := mongodb.EnsureIndexes(ctx, db, false); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// 命令行创建的用户不经过 Redis 缓存
	authSvc := service.NewAuthService(
		authrepo.NewUserRepo(db),
		authrepo.NewRefreshTokenRepo(db),
		nil,
		service.AuthOptions{JWTSecret: cfg.Auth.JWTSecret},
	)

	user, err := authSvc.CreateUser(ctx, username, email, passwordPlain, superuser)
	if err != nil {
		if errors.Is(err, service.ErrUserAlreadyExists) {
			log.Info().Str("username", username).Msg("user already exists, skip")
			return nil
		}
		return fmt.Errorf("create user: %w", err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Bool("superuser", user.IsSuperuser).
		Msg("user created")
	return nil
}
