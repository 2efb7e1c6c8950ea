package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raine/skinanalyze/config"
	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/skinapi"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <image-path>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  SKIN_API_URL  - API base URL (default %s)\n", config.DefaultAPIURL)
		fmt.Fprintf(os.Stderr, "  SKIN_USERNAME - Log in first so the analysis is saved to history\n")
		fmt.Fprintf(os.Stderr, "  SKIN_PASSWORD - Password for SKIN_USERNAME\n")
		os.Exit(1)
	}

	config.LoadEnvFile()

	imagePath := os.Args[1]
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	payload, err := capture.NewPayload(filepath.Base(imagePath), "", imageData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid image: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := skinapi.NewClient(skinapi.ClientOpts{BaseURL: os.Getenv("SKIN_API_URL")})

	var token string
	if username := os.Getenv("SKIN_USERNAME"); username != "" {
		res, err := client.Login(ctx, username, os.Getenv("SKIN_PASSWORD"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Login failed: %s\n", skinapi.UserMessage(err))
			os.Exit(1)
		}
		token = res.AccessToken
		fmt.Printf("Logged in as %s\n\n", res.Username)
	}

	result, err := client.Analyze(ctx, token, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %s\n", skinapi.UserMessage(err))
		os.Exit(1)
	}

	fmt.Printf("Score:     %s (%s)\n", result.DisplayScore(), result.Tier())
	fmt.Printf("Severity:  %s\n", result.Severity)
	fmt.Printf("Lesions:   %d\n", result.AcneCount)
	for _, d := range result.MergedDetections() {
		fmt.Printf("  - %-22s %3d  %s\n", d.DisplayLabel(), d.Count, d.Description())
	}
	if result.Feedback != "" {
		fmt.Printf("\nFeedback:  %s\n", result.Feedback)
	}
	for i, rec := range result.Recommendations {
		fmt.Printf("%2d. %s\n", i+1, rec)
	}
	if result.AnnotatedImageRef != "" {
		fmt.Printf("\nAnnotated: %s\n", client.ImageURL(result.AnnotatedImageRef))
	}
}
