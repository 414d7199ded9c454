package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MagaseAiko/ESP32-Security-System/internal/client"
	"github.com/MagaseAiko/ESP32-Security-System/internal/config"
	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

// Variables to hold flag values
var (
	expAddress    string
	expPort       string
	serviceAction string // "install", "uninstall", "start", "stop"
)

// --- SERVICE WRAPPER ---

// program implements the kardianos/service interface
type program struct {
	server *http.Server
	api    *client.ESP32Client
	log    *zap.SugaredLogger
}

func (p *program) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go p.run()
	return nil
}

func (p *program) run() {
	// An unreachable camera is reported as esp32cam_up 0, not a fatal error.
	ctx, cancel := context.WithTimeout(context.Background(), p.api.Config.Timeout)
	if _, err := p.api.Status(ctx); err != nil {
		p.log.Warnw("camera not reachable at startup", "address", p.api.Config.Address, "error", err)
	} else {
		p.log.Infow("camera reachable", "address", p.api.Config.Address)
	}
	cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(&ESP32Collector{Client: p.api, Log: p.log})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(p.log.Desugar()),
	}))

	addr := fmt.Sprintf(":%s", expPort)
	p.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	p.log.Infow("exporter listening", "addr", addr, "camera", p.api.Config.Address)

	// Blocking call to listen
	if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		p.log.Errorw("HTTP server error", "error", err)
	}
}

func (p *program) Stop(s service.Service) error {
	// Stop should not block. Signal the app to stop.
	p.log.Info("stopping service")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			p.log.Warnw("server forced to shutdown", "error", err)
		}
	}
	return nil
}

// --- COLLECTOR LOGIC ---

// Device is the part of the camera client the collector needs.
type Device interface {
	Status(ctx context.Context) (models.Settings, error)
}

type ESP32Collector struct {
	Client Device
	Log    *zap.SugaredLogger
	Mutex  sync.Mutex
}

var (
	upDesc = prometheus.NewDesc(
		"esp32cam_up", "Was the last status request successful.", nil, nil,
	)
	scrapeDurationDesc = prometheus.NewDesc(
		"esp32cam_scrape_duration_seconds", "Time taken to read the camera status.", nil, nil,
	)
	settingDesc = prometheus.NewDesc(
		"esp32cam_setting", "Current value of a camera control variable.", []string{"var"}, nil,
	)
	settingRangeDesc = prometheus.NewDesc(
		"esp32cam_setting_range", "Accepted bounds of a camera control variable.", []string{"var", "bound"}, nil,
	)
)

func (c *ESP32Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- upDesc
	ch <- scrapeDurationDesc
	ch <- settingDesc
	ch <- settingRangeDesc
}

func (c *ESP32Collector) Collect(ch chan<- prometheus.Metric) {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()
	start := time.Now()
	success := 1.0

	for _, v := range models.Variables {
		ch <- prometheus.MustNewConstMetric(settingRangeDesc, prometheus.GaugeValue, float64(v.Min), v.Name, "min")
		ch <- prometheus.MustNewConstMetric(settingRangeDesc, prometheus.GaugeValue, float64(v.Max), v.Name, "max")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if settings, err := c.Client.Status(ctx); err == nil {
		for _, v := range models.Variables {
			val, _ := settings.Get(v.Name)
			ch <- prometheus.MustNewConstMetric(settingDesc, prometheus.GaugeValue, float64(val), v.Name)
		}
	} else {
		success = 0.0
		if c.Log != nil {
			c.Log.Warnw("error scraping camera status", "error", err)
		}
	}

	ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, success)
	ch <- prometheus.MustNewConstMetric(scrapeDurationDesc, prometheus.GaugeValue, time.Since(start).Seconds())
}

// --- COMMAND ---

var exporterCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Start Prometheus Exporter service",
	Long: `Starts a long-running HTTP server that exposes the camera's settings as
Prometheus metrics. Can be installed as a system service.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Setup Client
		if expAddress == "" {
			expAddress = config.Address()
		}
		api := newClient(expAddress)

		// 2. Define Service Configuration
		svcConfig := &service.Config{
			Name:        "esp32cam-exporter",
			DisplayName: "ESP32-CAM Prometheus Exporter",
			Description: "Exposes ESP32-CAM settings to Prometheus",
			// Arguments passed to the binary when run as a service
			Arguments: []string{
				"exporter",
				"--address", expAddress,
				"--port", expPort,
				"--timeout", api.Config.Timeout.String(),
			},
		}
		if logFile != "" {
			svcConfig.Arguments = append(svcConfig.Arguments, "--log-file", logFile)
		}

		prg := &program{api: api, log: logger}

		s, err := service.New(prg, svcConfig)
		if err != nil {
			logger.Fatalw("could not create service", "error", err)
		}

		// 3. Handle Service Control Actions (Install, Start, Stop, Uninstall)
		if serviceAction != "" {
			err = service.Control(s, serviceAction)
			if err != nil {
				logger.Fatalw("service action failed", "action", serviceAction, "error", err)
			}
			fmt.Printf("Service action '%s' completed successfully.\n", serviceAction)
			return
		}

		// 4. Run the Service (Blocking)
		// This happens when the Service Manager starts the binary, OR when run interactively without flags
		svcLog, err := s.Logger(nil)
		if err != nil {
			logger.Fatalw("could not open service logger", "error", err)
		}
		if err = s.Run(); err != nil {
			svcLog.Error(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(exporterCmd)
	exporterCmd.Flags().StringVar(&expAddress, "address", "", "Camera address (default is the saved one)")
	exporterCmd.Flags().StringVar(&expPort, "port", "9101", "Port to listen on")
	exporterCmd.Flags().StringVar(&serviceAction, "service", "", "Service action: install, uninstall, start, stop")
}
