// seed-admin creates or updates the admin console user.
// Admin users have role 'A' and hold the export capability.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"bitbucket.org/mmdatafocus/orderexport_backend/models"
	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "exportAdmin"
	adminName     = "Export Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(1)
	}
	email := strings.TrimSpace(os.Getenv("SEED_ADMIN_EMAIL"))
	if email != "" && !utils.IsValidEmail(email) {
		fmt.Fprintf(os.Stderr, "SEED_ADMIN_EMAIL %q is not a valid email address\n", email)
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var user models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Take(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Fprintf(os.Stderr, "failed to lookup admin user: %v\n", err)
		os.Exit(1)
	}

	user.Username = adminUsername
	user.Name = adminName
	// Empty email stays NULL so the unique index never collides on "".
	user.Email = utils.NilIfEmpty(email)
	user.Password = string(hashed)
	user.Role = models.UserRoleAdmin
	user.IsActive = utils.NewTrue()

	if err := db.WithContext(ctx).Save(&user).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to save admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("admin user %q ready (id=%d)\n", adminUsername, user.ID)
}
