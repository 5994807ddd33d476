package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"trading-gateway/internal/instruments"
	"trading-gateway/pkg/config"
	"trading-gateway/pkg/exchanges/deribit"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	fmt.Println("Gateway Health Check")
	fmt.Println("====================")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{
		Overall:  "HEALTHY",
		Services: make([]HealthStatus, 0),
	}

	cfgStatus, cfg := checkConfig()
	report.Services = append(report.Services, cfgStatus)
	if cfg != nil {
		report.Services = append(report.Services, checkUpstream(ctx, cfg))
		report.Services = append(report.Services, checkCredentials(ctx, cfg))
		report.Services = append(report.Services, checkGateway(ctx, cfg))
		report.Services = append(report.Services, checkWebsocket(ctx, cfg))
	}

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" && report.Overall != "UNHEALTHY" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println()
	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		statusIcon := "✓"
		if svc.Status == "UNHEALTHY" {
			statusIcon = "✗"
		} else if svc.Status == "DEGRADED" {
			statusIcon = "⚠"
		}
		fmt.Printf("%s %-20s %s %s\n", statusIcon, svc.Service, svc.Status, svc.Message)
	}

	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}

	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: "HEALTHY", Timestamp: time.Now()}
}

func checkConfig() (HealthStatus, *config.Config) {
	status := newStatus("Configuration")

	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Failed to load: %v", err)
		return status, nil
	}
	if err := cfg.Validate(); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status, nil
	}

	status.Message = fmt.Sprintf("Port=%s Upstream=%s", cfg.Port, cfg.UpstreamBaseURL)
	return status, cfg
}

func newClient(cfg *config.Config) *deribit.Client {
	return deribit.NewClient(deribit.Config{
		BaseURL:      cfg.UpstreamBaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Timeout:      cfg.UpstreamTimeout,
	})
}

func checkUpstream(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Upstream API")

	names, err := instruments.Fetch(ctx, newClient(cfg), cfg.InstrumentCurrency, cfg.InstrumentKind)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Instrument list failed: %v", err)
		return status
	}
	if len(names) == 0 {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("No %s %s instruments listed", cfg.InstrumentCurrency, cfg.InstrumentKind)
		return status
	}

	status.Message = fmt.Sprintf("%d %s %s instruments", len(names), cfg.InstrumentCurrency, cfg.InstrumentKind)
	return status
}

func checkCredentials(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Upstream Auth")

	if !cfg.HasCredentials() {
		status.Status = "DEGRADED"
		status.Message = "No client credentials configured"
		return status
	}
	if _, err := newClient(cfg).Authenticate(ctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Authentication failed: %v", err)
		return status
	}

	status.Message = "Access token issued"
	return status
}

func checkGateway(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Gateway")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", cfg.Port), nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Instruments int    `json:"instruments"`
		Loops       []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"loops"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Unreadable health body: %v", err)
		return status
	}
	if body.Status != "ok" {
		status.Status = "DEGRADED"
		for _, l := range body.Loops {
			if !l.Healthy {
				status.Message += l.Name + " stalled; "
			}
		}
		return status
	}

	status.Message = fmt.Sprintf("Running (%d clients, %d instruments)", body.Connections, body.Instruments)
	return status
}

func checkWebsocket(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("WebSocket")

	u := url.URL{Scheme: "ws", Host: "localhost:" + cfg.Port, Path: "/ws"}
	if tok := os.Getenv("GATEWAY_CLIENT_TOKEN"); tok != "" {
		u.RawQuery = url.Values{"token": {tok}}.Encode()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Dial failed: %v", err)
		return status
	}
	defer ws.Close()

	marker := fmt.Sprintf(`{"type":"echo","marker":%d}`, time.Now().UnixNano())
	start := time.Now()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(marker)); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Write failed: %v", err)
		return status
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	// broadcasts may arrive ahead of the echo
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			status.Status = "DEGRADED"
			status.Message = fmt.Sprintf("No echo: %v", err)
			return status
		}
		if string(msg) == marker {
			break
		}
	}

	status.Message = fmt.Sprintf("Echo round trip %s", time.Since(start).Round(time.Microsecond))
	return status
}
