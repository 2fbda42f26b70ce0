package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"invest-engine/internal/database"
	"invest-engine/internal/logging"
)

// SeedAdminUser ensures an admin account exists with the configured
// credentials. It creates the admin if missing and repairs the password or
// the admin flag if they drifted.
func SeedAdminUser(ctx context.Context, db *database.DB, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("admin email and password are required")
	}

	repo := database.NewRepository(db)
	log := logging.WithComponent("admin-seeder")

	user, err := repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check for admin user: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	if user == nil {
		log.Info("Admin user not found, creating", "email", email)

		code, err := randomCode(8)
		if err != nil {
			return fmt.Errorf("failed to generate referral code: %w", err)
		}

		adminUser := &database.User{
			Email:        email,
			PasswordHash: string(hashedPassword),
			Name:         "Administrator",
			ReferralCode: code,
			Status:       database.AccountActive,
			IsAdmin:      true,
		}

		if err := repo.CreateUser(ctx, adminUser); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		log.Info("Admin user created", "user_id", adminUser.ID)
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Info("Updating admin password", "email", email)
		if err := repo.UpdateUserPassword(ctx, user.ID, string(hashedPassword)); err != nil {
			return fmt.Errorf("failed to update admin password: %w", err)
		}
	}

	if !user.IsAdmin {
		log.Info("Restoring admin flag", "user_id", user.ID)
		if err := repo.SetUserAdmin(ctx, user.ID, true); err != nil {
			return fmt.Errorf("failed to set admin flag: %w", err)
		}
	}

	return nil
}
