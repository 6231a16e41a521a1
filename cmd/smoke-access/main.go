package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/remote"
)

func main() {
	logger := obs.Logger()
	httpURL := envOr("PRODUCTCORE_SMOKE_HTTP_URL", "http://localhost:8080")
	grpcAddr := envOr("PRODUCTCORE_SMOKE_GRPC_ADDR", "localhost:9090")

	ctx, cancel := remote.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, token, err := createCounter(ctx, httpURL)
	if err != nil {
		logger.Fatal("create counter", zap.Error(err))
	}

	client, err := remote.Dial(grpcAddr)
	if err != nil {
		logger.Fatal("dial access service", zap.String("addr", grpcAddr), zap.Error(err))
	}
	defer client.Close()

	ready, err := client.Ready(ctx)
	if err != nil || !ready {
		logger.Fatal("access service not ready", zap.Bool("ready", ready), zap.Error(err))
	}

	resp, err := client.Check(ctx, id, token, counter.PermissionIncrement, envOr("PRODUCTCORE_SMOKE_CALLER_TOKEN", ""))
	if err != nil {
		logger.Fatal("check admin capability", zap.Error(err))
	}
	if !resp.Valid {
		logger.Fatal("admin capability rejected", zap.String("reason", resp.Reason))
	}

	resp, err = client.Check(ctx, id, token+"x", counter.PermissionIncrement, "")
	if err != nil {
		logger.Fatal("check tampered token", zap.Error(err))
	}
	if resp.Valid || resp.Reason != "invalid_token" {
		logger.Fatal("tampered token accepted", zap.Bool("valid", resp.Valid), zap.String("reason", resp.Reason))
	}

	fmt.Printf("access smoke test passed: counter=%s\n", id)
}

func createCounter(ctx context.Context, baseURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/counters", nil)
	if err != nil {
		return "", "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Counter struct {
			ID string `json:"id"`
		} `json:"counter"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	return body.Counter.ID, body.Token, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
