// seed creates the development accounts in Postgres. Idempotent: existing accounts are skipped.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"budget-planner/backend/internal/config"
	"budget-planner/backend/internal/db"
	"budget-planner/backend/internal/security"
	"budget-planner/backend/internal/user/devseed"
	userrepo "budget-planner/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	created, err := devseed.Apply(ctx, userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost), time.Now().UTC())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if created == 0 {
		log.Println("Seed already applied. Skipping.")
		return
	}

	log.Printf("Seed completed: %d accounts created.", created)
	fmt.Printf("Dev login: %s / %s\n", devseed.DevUserEmail, devseed.DevPassword)
	fmt.Printf("Admin login: %s / %s\n", devseed.AdminEmail, devseed.DevPassword)
}
