// Command admin manages local accounts and the administrator capability.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"blogger/internal/auth"
	"blogger/internal/config"
	"blogger/internal/database"
	"blogger/internal/models"
	"blogger/internal/repository"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  admin create-user <username> <password> [--admin]  - Create a local account")
	fmt.Println("  admin promote <username>                           - Grant administrator")
	fmt.Println("  admin demote <username>                            - Revoke administrator")
	fmt.Println("  admin list-admins                                  - List all administrators")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	users := repository.NewUserRepository(db)
	args := os.Args[2:]

	switch os.Args[1] {
	case "create-user":
		if len(args) < 2 {
			usage()
			os.Exit(1)
		}
		createUser(ctx, auth.NewUserProvider(users, 0), args[0], args[1], len(args) > 2 && args[2] == "--admin")
	case "promote":
		requireArg(args)
		setAdmin(ctx, users, args[0], true)
	case "demote":
		requireArg(args)
		setAdmin(ctx, users, args[0], false)
	case "list-admins":
		listAdmins(ctx, users)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func requireArg(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
}

func createUser(ctx context.Context, provider *auth.UserProvider, username, password string, admin bool) {
	ident, err := provider.Register(ctx, auth.RegisterInput{Username: username, Password: password, IsAdmin: admin})
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("✅ Created %s (ID: %s, admin: %v)\n", ident.Username, ident.ID, ident.IsAdmin)
}

func setAdmin(ctx context.Context, users repository.UserRepository, username string, admin bool) {
	user, err := users.GetByUsername(ctx, username)
	if models.IsCode(err, models.CodeNotFound) {
		fmt.Printf("User %s not found\n", username)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	if user.IsAdmin == admin {
		fmt.Printf("User %s already has admin=%v\n", user.Username, admin)
		return
	}
	if err := users.SetAdmin(ctx, username, admin); err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}
	if admin {
		fmt.Printf("✅ Successfully promoted %s (ID: %s) to admin\n", user.Username, user.ID)
	} else {
		fmt.Printf("✅ Successfully demoted %s (ID: %s) from admin\n", user.Username, user.ID)
	}
}

func listAdmins(ctx context.Context, users repository.UserRepository) {
	admins, err := users.ListAdmins(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch admins: %v", err)
	}
	if len(admins) == 0 {
		fmt.Println("No admins found in the system")
		return
	}
	fmt.Printf("Found %d admin(s):\n", len(admins))
	for _, a := range admins {
		fmt.Printf("  - %s (ID: %s)\n", a.Username, a.ID)
	}
}
