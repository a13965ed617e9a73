package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/msomdec/safewalk/internal/auth"
	"github.com/msomdec/safewalk/internal/backend"
	"github.com/msomdec/safewalk/internal/controller"
	"github.com/msomdec/safewalk/internal/domain"
	"github.com/msomdec/safewalk/internal/location"
	"github.com/msomdec/safewalk/internal/notify"
	"github.com/msomdec/safewalk/internal/repository/sqlite"
	"github.com/msomdec/safewalk/internal/transport"
)

func main() {
	logOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewTextHandler(os.Stderr, logOpts))
	slog.SetDefault(logger)

	apiURL := envOrDefault("SAFEWALK_API_URL", "http://localhost:3001")
	socketURL := envOrDefault("SAFEWALK_SOCKET_URL", "ws://localhost:3001/socket")
	dbPath := envOrDefault("DATABASE_PATH", "safewalk.db")
	gpsdAddr := envOrDefault("GPSD_ADDR", "localhost:2947")

	graceSeconds := 10
	if v := os.Getenv("GRACE_SECONDS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			slog.Error("invalid GRACE_SECONDS", "value", v)
			os.Exit(1)
		}
		graceSeconds = parsed
	}

	accuracyGate := 100.0
	if v := os.Getenv("ACCURACY_GATE_METERS"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Error("invalid ACCURACY_GATE_METERS", "error", err)
			os.Exit(1)
		}
		accuracyGate = parsed
	}

	token, err := auth.Load(os.Getenv("SAFEWALK_TOKEN_FILE"), os.Getenv("SAFEWALK_TOKEN"))
	if err != nil {
		slog.Error("failed to load bearer token", "error", err)
		os.Exit(1)
	}
	if token.Expired(time.Now()) {
		slog.Warn("bearer token is expired; server calls will be rejected", "subject", token.Subject())
	}

	db, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations applied")

	store := db.Sessions()
	deviceID, err := store.DeviceID(context.Background())
	if err != nil {
		slog.Error("failed to resolve device id", "error", err)
		os.Exit(1)
	}
	slog.Info("device registered", "device_id", deviceID)

	walkBackend := backend.New(apiURL, token.Token(), deviceID)
	gps := location.NewGPSD(gpsdAddr)

	var reminders domain.ReminderScheduler
	if os.Getenv("SAFEWALK_NO_NOTIFY") != "" {
		reminders = notify.Noop{}
	} else {
		reminders = notify.NewScheduler(notify.Desktop{AppName: "SafeWalk"})
	}

	channel := transport.NewChannel(socketURL)
	defer channel.Close()

	ctrl := controller.New(store, walkBackend, gps, reminders, channel, controller.Config{
		Grace:              time.Duration(graceSeconds) * time.Second,
		AccuracyGateMeters: accuracyGate,
	})

	// Pick up a session left behind by a crash or restart.
	if err := ctrl.Recover(context.Background()); err != nil {
		slog.Error("session recovery failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for v := range ctrl.Updates() {
			if v.IsAlerting {
				slog.Warn("no check-in received, contacts are being alerted", "status", v.Status)
				continue
			}
			slog.Info("session update", "status", v.Status, "remaining_s", v.RemainingSeconds)
		}
	}()

	go console(ctx, ctrl, stop)

	<-ctx.Done()
	slog.Info("shutting down")
	// An active session stays persisted so the next start recovers it.
}

// console reads commands from stdin until the context ends or stdin closes.
func console(ctx context.Context, ctrl *controller.Controller, stop func()) {
	fmt.Println("commands: arm <minutes> | safe | cancel | ack | status | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "arm":
			if len(fields) != 2 {
				fmt.Println("usage: arm <minutes>")
				continue
			}
			minutes, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: arm <minutes>")
				continue
			}
			if err := ctrl.Arm(ctx, minutes); err != nil {
				if errors.Is(err, domain.ErrNoContacts) {
					fmt.Println("no emergency contacts configured; add at least one before starting a walk")
					continue
				}
				slog.Error("arm failed", "error", err)
			}
		case "safe":
			if err := ctrl.MarkSafe(ctx); err != nil {
				slog.Error("mark safe", "error", err)
			}
		case "cancel":
			if err := ctrl.Cancel(ctx); err != nil {
				slog.Error("cancel failed", "error", err)
			}
		case "ack":
			if err := ctrl.Acknowledge(ctx); err != nil {
				slog.Error("acknowledge failed", "error", err)
			}
		case "status":
			v := ctrl.View()
			fmt.Printf("status=%s remaining=%ds alerting=%v\n", v.Status, v.RemainingSeconds, v.IsAlerting)
		case "quit":
			stop()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
