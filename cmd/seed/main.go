// Command seed fills the database with demo authors and posts.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"blogger/internal/bootstrap"
	"blogger/internal/config"
	"blogger/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 5, "Number of authors to create")
	numPosts := flag.Int("posts", 40, "Number of posts to create")
	drafts := flag.Float64("drafts", 0.2, "Share of posts left as drafts")
	days := flag.Int("days", 60, "How far back the first post is dated")
	seedValue := flag.Int64("seed", 0, "Random seed; 0 picks one")
	shouldClean := flag.Bool("clean", false, "Delete all posts and users before seeding")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Printf("Target: %d users, %d posts, clean=%v\n", *numUsers, *numPosts, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	clock := seed.NewClock(time.Duration(*days)*24*time.Hour, *seedValue)
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Clock: clock.Now, SkipServer: true})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() { _ = app.Close(ctx) }()

	if *shouldClean {
		if err := seed.Clear(ctx, app.DB); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
		if err := app.Posts.RebuildIndex(ctx); err != nil {
			log.Fatalf("❌ Tag index rebuild failed: %v", err)
		}
	}

	s := seed.New(app.Users, app.Posts, seed.Options{
		Users:      *numUsers,
		Posts:      *numPosts,
		DraftRatio: *drafts,
		Seed:       *seedValue,
	})
	res, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ Created %d users and %d posts.\n", len(res.Users), len(res.Posts))
	for _, u := range res.Users {
		log.Printf("   %s\n", u.Username)
	}
	log.Printf("📧 All seeded users have the password: %s\n", seed.DefaultPassword)
}
