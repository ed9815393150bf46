package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"postboard/auth"
	"postboard/crud"
	"postboard/http"
	"postboard/storage"
)

// main is the app's entry point.
func main() {
	// With -prod a .config.json file must be present before the app starts.
	productionBool := flag.Bool("prod", false, "Provide this flag in production to ensure that a .config.json file is provided before the application starts.")
	resetBool := flag.Bool("reset", false, "Drop and recreate all tables before serving. Development only.")
	flag.Parse()

	config, err := LoadConfig(*productionBool)
	must(err)
	if *productionBool {
		config.Env = "prod"
	}
	must(config.Validate())

	// Open a database connection.
	db := NewDB(config.DSN())
	must(Open(db, config.IsProd()))
	defer Close(db)

	// Start the crud services and execute migrations.
	creds := auth.NewCredentials(config.AuthConfig())
	services, err := crud.NewServices(
		db.Gorm,
		crud.WithUser(creds),
		crud.WithPost(),
		crud.WithLike(),
		crud.WithProfile(),
	)
	must(err)
	if *resetBool && !config.IsProd() {
		must(services.DestructiveReset())
	} else {
		must(services.AutoMigrate())
	}

	// Pick the image store. Files on disk are served by the app itself.
	var backend storage.Backend
	var uploads *storage.DiskStore
	switch config.Images.Backend {
	case "s3":
		backend = storage.NewS3Store(config.Images.S3)
	default:
		must(os.MkdirAll(config.Images.Dir, 0o755))
		uploads = storage.NewDiskStore(config.Images.Dir, config.Images.BaseURL)
		backend = uploads
	}

	// Set up a webserver.
	server := http.NewServer(services, creds, storage.NewImageService(backend), config.CORSOrigins)
	if uploads != nil {
		server.Mount(strings.TrimSuffix(config.Images.BaseURL, "/")+"/", uploads.Handler())
	}

	// Serve the app until interrupted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx, config.Port); err != nil {
		log.Fatal(err)
	}
}

// must is a little helper for shortening the panic instruction.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
