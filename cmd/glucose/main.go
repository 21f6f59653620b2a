package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/glucose.report/internal/blocksource"
	"github.com/banshee-data/glucose.report/internal/calibration"
	"github.com/banshee-data/glucose.report/internal/config"
	"github.com/banshee-data/glucose.report/internal/db"
	"github.com/banshee-data/glucose.report/internal/httputil"
	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
	"github.com/banshee-data/glucose.report/internal/oop"
	"github.com/banshee-data/glucose.report/internal/processing"
	"github.com/banshee-data/glucose.report/internal/publish"
	"github.com/banshee-data/glucose.report/internal/report"
	"github.com/banshee-data/glucose.report/internal/timeutil"
	"github.com/banshee-data/glucose.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Processing config file (.json, .yaml or .yml); defaults apply when empty")
	blockFile  = flag.String("block", "", "Memory image file, raw or hex encoded")
	port       = flag.String("port", "", "Serial bridge device streaming hex encoded images, one per line")
	baudRate   = flag.Int("baud", 115200, "Serial bridge baud rate")
	interval   = flag.Duration("interval", 0, "Poll interval; 0 processes a single image and exits")

	sensorSerial = flag.String("serial", "", "Sensor serial number")
	sensorType   = flag.String("type", "", "Sensor type (libre1, libre1A2, libre2, libreUS14day, libreProH); classified from -vendor-info when empty")
	vendorInfo   = flag.String("vendor-info", "", "Vendor info block as hex")
	decrypted    = flag.Bool("decrypted", false, "The image was already converted to the base layout")
	battery      = flag.Int("battery", -1, "Transmitter battery level, -1 when unknown")

	dbPath     = flag.String("db", "", "sqlite database for the calibration cache and result log")
	listen     = flag.String("listen", "", "Listen address for the database debug routes (requires -db)")
	mqttBroker = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	mqttTopic  = flag.String("mqtt-topic", "glucose/readings", "MQTT topic for delivered results")
	plotPath   = flag.String("plot", "", "Write a chart of each delivered series to this path")

	verbose     = flag.Bool("verbose", false, "Enable verbose diagnostics")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if (*blockFile == "") == (*port == "") {
		log.Fatal("exactly one of -block or -port is required")
	}
	if *listen != "" && *dbPath == "" {
		log.Fatal("-listen requires -db")
	}

	cfg := config.DefaultProcessingConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadProcessingConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	monitoring.SetVerbose(*verbose || cfg.GetVerbose())

	template, err := inputTemplate(*sensorType, *sensorSerial, *vendorInfo, *decrypted, *battery)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    calibration.Store
		database *db.DB
	)
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		store = db.NewCalibrationStore(database)
	}

	var service processing.CalibrationService
	if cfg.GetWebCalibrationEnabled() {
		service = oop.NewClient(cfg.GetCalibrationEndpoint(), cfg.GetCalibrationToken(), httputil.NewStandardClient(&http.Client{Timeout: cfg.GetRequestTimeout()}))
	}

	clock := timeutil.RealClock{}
	orchestrator := processing.New(cfg, service, store, clock)
	session := orchestrator.Session(template.SerialNumber)
	monitoring.Logf("session %s for sensor %q", session.ID, template.SerialNumber)

	receivers := processing.Tee{&printer{w: os.Stdout}}
	if database != nil {
		receivers = append(receivers, db.NewRecorder(database, session.ID, template.SerialNumber))
	}
	if *mqttBroker != "" {
		opts := publish.Options{Broker: *mqttBroker, Topic: *mqttTopic, QoS: 1}
		client, err := publish.Connect(opts)
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer client.Disconnect(1000)
		receivers = append(receivers, publish.NewReceiver(client, opts, template.SerialNumber, clock))
	}
	if *plotPath != "" {
		receivers = append(receivers, &report.Plotter{Path: *plotPath, Title: template.SerialNumber})
	}

	var wg sync.WaitGroup
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, *listen, database)
		}()
	}

	var src blocksource.Source
	if *blockFile != "" {
		src = blocksource.FileSource{Path: *blockFile}
	} else {
		lines, err := blocksource.OpenSerial(*port, blocksource.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatal(err)
		}
		defer lines.Close()
		src = lines
	}

	handle := func(ctx context.Context, block *libre.RawBlock, err error) {
		if err != nil {
			monitoring.Logf("failed to read memory image: %v", err)
			return
		}
		in := template
		in.Block = block
		orchestrator.Process(ctx, in, receivers)
	}

	// Single-shot mode polls once and stops; cancelling also closes a blocked
	// serial read.
	pollCtx, finish := context.WithCancel(ctx)
	defer finish()
	every, onBlock := *interval, handle
	if every <= 0 {
		every = time.Minute
		onBlock = func(ctx context.Context, block *libre.RawBlock, err error) {
			handle(ctx, block, err)
			finish()
		}
	}
	if err := blocksource.Poll(pollCtx, clock, every, src, onBlock); err != nil && !errors.Is(err, context.Canceled) {
		monitoring.Logf("polling stopped: %v", err)
	}

	stop()
	wg.Wait()
}

// inputTemplate builds the per-image input from the command line. The block is
// filled in per poll.
func inputTemplate(typeName, serial, vendorHex string, decrypted bool, battery int) (processing.Input, error) {
	in := processing.Input{SerialNumber: serial, DecryptedToBaseFormat: decrypted}
	if typeName != "" {
		t, ok := libre.ParseSensorType(typeName)
		if !ok {
			return in, fmt.Errorf("unknown sensor type %q", typeName)
		}
		in.SensorType = t
	}
	if vendorHex != "" {
		info, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(vendorHex), "0x"))
		if err != nil {
			return in, fmt.Errorf("invalid -vendor-info: %w", err)
		}
		in.VendorInfo = info
	}
	if battery >= 0 {
		in.Battery = &battery
	}
	return in, nil
}

func serveAdmin(ctx context.Context, addr string, database *db.DB) {
	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		log.Printf("failed to attach admin routes: %v", err)
		return
	}
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown: %v", err)
	}
}

// printer writes each delivered result as one JSON line.
type printer struct {
	w io.Writer

	mu       sync.Mutex
	readings []libre.GlucoseReading
	battery  *int
	age      *int
}

type printedResult struct {
	Readings         []libre.GlucoseReading `json:"readings"`
	Battery          *int                   `json:"battery,omitempty"`
	SensorAgeMinutes *int                   `json:"sensor_age_minutes,omitempty"`
	SensorState      string                 `json:"sensor_state,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

func (p *printer) ReceiveReadings(readings []libre.GlucoseReading, battery *int, sensorAgeMinutes *int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings, p.battery, p.age = readings, battery, sensorAgeMinutes
}

func (p *printer) Complete(state *libre.SensorState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := printedResult{Readings: p.readings, Battery: p.battery, SensorAgeMinutes: p.age}
	if state != nil {
		out.SensorState = state.String()
	}
	if err != nil {
		out.Error = err.Error()
	}
	if encErr := json.NewEncoder(p.w).Encode(out); encErr != nil {
		log.Printf("failed to write result: %v", encErr)
	}
}
