// Command phoneagentd assembles one tenant's core against loopback
// collaborator stubs and runs it until interrupted. A production
// deployment replaces the stubs with real SIP/gateway/IMAP clients and
// binds an HTTP shell to the control surface; this binary exists so the
// core is runnable end-to-end without any of that.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/config"
	"github.com/handwerkcall/phoneagent/pkg/container"
	"github.com/handwerkcall/phoneagent/pkg/external"
	"github.com/handwerkcall/phoneagent/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration (empty = built-in defaults)")
	tenantID := flag.String("tenant", "demo", "tenant id to run")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)
	log.Info("starting", "version", version.Full())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	collab := container.Collaborators{
		SIP:          &stubSIP{},
		SMSGateway:   &stubGateway{provider: "sipgate"},
		EmailGateway: &stubGateway{provider: "sendgrid"},
	}

	c, err := container.New(*tenantID, cfg, collab, clock.SystemClock{}, log)
	if err != nil {
		log.Error("container assembly failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	stats := c.Control.GetDialerStats()
	log.Info("dialer ready",
		"status", string(stats.Status),
		"business_hours_active", stats.BusinessHoursActive)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	c.Shutdown(context.Background())
}

// stubSIP answers no call: every originate rings out, so queued calls
// surface as no_answer and the queueing machinery is observable without a
// PBX.
type stubSIP struct{}

func (s *stubSIP) Originate(ctx context.Context, destination, callerID string, ringTimeout time.Duration, metadata map[string]string) (external.Call, error) {
	return external.Call{
		ID:          uuid.NewString(),
		Direction:   external.DirectionOutbound,
		State:       external.CallRinging,
		Destination: destination,
		StartedAt:   time.Now(),
	}, nil
}

func (s *stubSIP) WaitForAnswer(ctx context.Context, callID string, timeout time.Duration) (bool, error) {
	return false, nil
}

func (s *stubSIP) Hangup(ctx context.Context, callID string) (bool, error) { return true, nil }

func (s *stubSIP) OnEvent(fn func(external.CallEvent)) {}

// stubGateway accepts every message and fabricates a provider message id,
// mirroring sipgate's synchronous-accept, no-callback behavior.
type stubGateway struct {
	provider string
}

func (g *stubGateway) Send(ctx context.Context, msg external.OutboundMessage) (external.SendResult, error) {
	return external.SendResult{
		Success:           true,
		ProviderMessageID: fmt.Sprintf("%s_%s", g.provider, uuid.NewString()),
		Status:            "queued",
		Segments:          1,
	}, nil
}

func (g *stubGateway) SendBulk(ctx context.Context, msgs []external.OutboundMessage) ([]external.SendResult, error) {
	out := make([]external.SendResult, 0, len(msgs))
	for _, m := range msgs {
		res, err := g.Send(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (g *stubGateway) GetStatus(ctx context.Context, providerMessageID string) (string, error) {
	return "unknown", nil
}
