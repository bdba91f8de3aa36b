package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/storefront-auth/internal"
	"github.com/dgellow/storefront-auth/internal/config"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/joho/godotenv"
)

var BuildVersion = "dev"

func printValidation(result *config.ValidationResult) error {
	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
		}
	}

	fmt.Println()
	if result.IsValid() {
		fmt.Println("Result: PASS")
		return nil
	}
	fmt.Println("Result: FAIL")
	return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
}

func main() {
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	validate := flag.Bool("validate", false, "validate the environment and exit")
	envFile := flag.String("env-file", "", "load variables from this dotenv file before reading the environment")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}

	if *envFile != "" {
		// Variables already set in the environment take precedence
		if err := godotenv.Load(*envFile); err != nil {
			log.LogError("Failed to load env file: %v", err)
			os.Exit(1)
		}
	}

	if *validate {
		if err := printValidation(config.ValidateEnvironment(nil)); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.LogError("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting storefront-auth", map[string]any{
		"version": BuildVersion,
	})

	app, err := internal.NewApp(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to build service: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Server stopped: %v", err)
		os.Exit(1)
	}
}
