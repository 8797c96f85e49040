package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"trainhub/internal/database"
	"trainhub/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type UsersConfig struct {
	Users []models.User `yaml:"users"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		usersPath = flag.String("users", "configs/users.yaml", "path to users.yaml")
		dbPath    = flag.String("db", "./data/trainhub.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*usersPath)
	if err != nil {
		return fmt.Errorf("read users: %w", err)
	}
	var cfg UsersConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse users: %w", err)
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("no users in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	updated := 0
	for i := range cfg.Users {
		u := &cfg.Users[i]
		if u.ID <= 0 || u.Role == "" {
			continue
		}
		_, err = db.GetUserByID(ctx, u.ID)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, database.ErrUserNotFound):
			created++
		default:
			return fmt.Errorf("get user %d: %w", u.ID, err)
		}
		if err = db.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("upsert user %d: %w", u.ID, err)
		}
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}
