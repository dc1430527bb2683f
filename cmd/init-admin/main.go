package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/auth"
	"jumpstudy/internal/config"
	"jumpstudy/internal/models"
	"jumpstudy/internal/storage"
)

func main() {
	fmt.Println("Credits Service - Bootstrap Admin Initialization")
	fmt.Println(strings.Repeat("=", 48))

	// Load configuration (primarily for database connection)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Get bootstrap credentials from environment
	email := os.Getenv("ADMIN_BOOTSTRAP_EMAIL")
	password := os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")

	if email == "" || password == "" {
		fmt.Fprintf(os.Stderr, "ERROR: ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD must be set\n")
		os.Exit(1)
	}

	if !isValidEmail(email) {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid email format: %s\n", email)
		os.Exit(1)
	}

	if len(password) < 8 {
		fmt.Fprintf(os.Stderr, "ERROR: Password must be at least 8 characters long\n")
		os.Exit(1)
	}

	// Connect to database
	fmt.Println("Connecting to database...")
	dbConfig := storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
		// Minimal cache for the init tool
		AccountCacheSize: 10,
		AccountCacheTTL:  5 * time.Minute,
	}

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Database connection established")

	repo := db.NewAdminUserRepository()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Bootstrap is only for an empty admin table
	fmt.Println("Checking for existing admin users...")
	existingUsers, err := repo.List(ctx, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check existing users: %v\n", err)
		os.Exit(1)
	}

	if len(existingUsers) > 0 {
		fmt.Printf("INFO: Found %d existing admin user(s). Bootstrap not needed.\n", len(existingUsers))
		fmt.Println("Existing users:")
		for _, user := range existingUsers {
			status := "enabled"
			if !user.Enabled {
				status = "disabled"
			}
			fmt.Printf("  - %s (%s) - Roles: %v\n", user.Email, status, user.Roles)
		}
		fmt.Println("\nExiting successfully (no action taken)")
		os.Exit(0)
	}

	existingUser, err := repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrAdminUserNotFound) {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check for existing user: %v\n", err)
		os.Exit(1)
	}

	if existingUser != nil {
		fmt.Printf("INFO: Admin user with email %s already exists\n", email)
		fmt.Println("Exiting successfully (no action taken)")
		os.Exit(0)
	}

	fmt.Println("Hashing password...")
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Creating bootstrap admin user: %s\n", email)
	adminUser := &models.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        []string{string(auth.RoleAdmin)},
		Enabled:      true,
	}

	if err := repo.Create(ctx, adminUser); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n" + strings.Repeat("-", 50))
	fmt.Println("SUCCESS: Bootstrap admin user created!")
	fmt.Printf("Email: %s\n", adminUser.Email)
	fmt.Printf("ID: %s\n", adminUser.ID)
	fmt.Printf("Roles: %v\n", adminUser.Roles)
	fmt.Println("\nYou can now log in via POST /admin/login with these credentials.")
	fmt.Println("Remove ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD from your environment.")
}

// isValidEmail performs a basic email validation
func isValidEmail(email string) bool {
	if len(email) < 3 {
		return false
	}
	atIndex := strings.Index(email, "@")
	if atIndex <= 0 || atIndex != strings.LastIndex(email, "@") || atIndex == len(email)-1 {
		return false
	}
	return true
}
