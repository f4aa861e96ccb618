// gateway is the bootstrap entrypoint for the prompt-security pipeline:
// it loads configuration, builds the tenant manager, and drives a demo
// CLI loop that sends stdin lines through one tenant's pipeline and
// prints the resulting decision. Grounded on the teacher's
// cmd/helixagent/main.go bootstrap idiom (godotenv, flag, logrus).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dev.aegisv.gateway/internal/config"
	"dev.aegisv.gateway/internal/tenant"
)

func main() {
	// Load environment variables from a .env file if present; missing
	// files are not an error since config can come from the real
	// environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("could not load .env file")
	}

	clientID := flag.String("client-id", "demo-tenant", "tenant to route stdin prompts to")
	jsonOutput := flag.Bool("json", false, "print the full decision record as JSON instead of a summary line")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load()
	manager := tenant.New(cfg, logger)
	defer manager.Close()

	logger.WithFields(logrus.Fields{
		"client_id": *clientID,
		"provider":  cfg.Engine.Provider,
	}).Info("aegis gateway ready, reading prompts from stdin")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		prompt := scanner.Text()
		if prompt == "" {
			continue
		}

		decision, err := manager.Process(context.Background(), *clientID, prompt)
		if err != nil {
			logger.WithError(err).Error("pipeline error")
			continue
		}

		if *jsonOutput {
			data, _ := json.MarshalIndent(decision, "", "  ")
			fmt.Println(string(data))
			continue
		}

		status := "ALLOWED"
		if !decision.Allowed {
			status = "BLOCKED"
		}
		fmt.Printf("[%s] stage=%s risk=%d latency=%.1fms\n%s\n\n",
			status, decision.Stage, decision.RiskScore, decision.LatencyMs, decision.Response)
	}

	if err := scanner.Err(); err != nil {
		logger.WithError(err).Error("reading stdin")
		os.Exit(1)
	}
}
