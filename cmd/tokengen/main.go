// cmd/tokengen/main.go
//
// Mints a JWT for local testing against a running instance. Tokens for
// real users come from the platform's identity service; this tool only
// exists so curl sessions against a dev server do not need one.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/utils"
)

func main() {
	userID := flag.String("user", "", "user UUID (random if omitted)")
	username := flag.String("name", "devuser", "username claim")
	userType := flag.String("type", "customer", "user type: customer, merchant or admin")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	id := uuid.New()
	if *userID != "" {
		id, err = uuid.Parse(*userID)
		if err != nil {
			log.Fatal("Invalid user UUID:", err)
		}
	}

	token, err := utils.GenerateJWT(id, *username, *userType, cfg.JWT.AccessTokenTTL)
	if err != nil {
		log.Fatal("Failed to generate token:", err)
	}

	fmt.Println(token)
}
