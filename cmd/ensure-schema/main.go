package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/config"
	"smarthouse-data/internal/sheets"

	"go.uber.org/zap"
)

// 为每张表补齐缺失的表头列（已有列和数据不动）
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()
	backend, closeBackend, err := sheets.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Cannot open %s store: %v", cfg.Sheets.Backend, err)
	}
	defer closeBackend()

	gw := sheets.NewGateway(backend, sheets.GatewayOptions(&cfg.Sheets), logger)

	failed := 0
	for _, s := range codec.AllSchemas() {
		if err := gw.EnsureHeaders(ctx, s.Table, s.Headers()); err != nil {
			fmt.Printf("✗ %-20s %v\n", s.Table, err)
			failed++
			continue
		}
		fmt.Printf("✓ %-20s %s\n", s.Table, strings.Join(s.Headers(), ", "))
	}
	if failed > 0 {
		log.Fatalf("%d table(s) could not be migrated", failed)
	}
	fmt.Println("\nAll tables are up to date.")
}
