package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/scwee/autogift/core/buildinfo"
	"github.com/scwee/autogift/core/cmd"
	"github.com/scwee/autogift/core/funpay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env file not found, relying on environment")
	}
	log.Printf("autogift %s (%s, %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date)

	// The marketplace transport is deployment-specific; programs embedding
	// the fulfillment core replace the connector here.
	err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
		Connector:         funpay.NopConnector{},
	})
	if err != nil {
		log.Fatalf("autogift: %v", err)
	}
}
