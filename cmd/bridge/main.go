package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"portenta-bridge/internal/adapters"
	"portenta-bridge/internal/adapters/udp"
	"portenta-bridge/internal/bootstrap"
	"portenta-bridge/internal/config"
	"portenta-bridge/internal/control"
	"portenta-bridge/internal/events"
	"portenta-bridge/internal/gate"
	"portenta-bridge/internal/hub"
	"portenta-bridge/internal/protocol"
	"portenta-bridge/internal/registry"
	"portenta-bridge/internal/rpc"
	"portenta-bridge/internal/telemetry"
	"portenta-bridge/internal/tty"
	"portenta-bridge/internal/web"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to bridge.yml")
	flag.Parse()

	// весь лог идёт и в stderr, и в кольцевой буфер для UDP-клиентов и SSE
	evbuf := events.NewRing(1024)
	log.SetOutput(io.MultiWriter(os.Stderr, events.NewLineWriter(evbuf, "log")))

	if err := run(*cfgPath, evbuf); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Printf("[shutdown] program terminated")
}

func run(cfgPath string, evbuf events.Buffer) error {
	log.Printf("== Portenta Linux display/core bridge ==")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	key, err := protocol.NewKey(cfg.Protocol.KeyTag)
	if err != nil {
		return err
	}

	loadLayout := func() (*config.Layout, error) { return config.LoadLayout(cfg.LayoutPath) }
	displayJSON := func() ([]byte, error) {
		l, err := loadLayout()
		if err != nil {
			return nil, err
		}
		return l.DisplayJSON()
	}

	layout, err := loadLayout()
	if err != nil {
		log.Printf("[init] WARNING: %v", err)
	}

	modeName := cfg.DefaultMode
	if layout != nil && layout.DefaultMode != "" {
		modeName = layout.DefaultMode
	}
	mode := gate.ParseMode(modeName)

	core := rpc.New(&rpc.MsgpackDialer{Addr: cfg.RPC.Address},
		rpc.Options{Retries: cfg.RPC.Retries, Timeout: cfg.RPC.Timeout}, cfg.RPC.Backoff)

	store := registry.NewStore(mode, core)
	seed(store, layout, mode)
	store.LogAll()
	if layout != nil {
		layout.PollNameMap()
	}
	if cfg.RPC.Verify {
		core.VerifyBindings(context.Background(), control.TruthTable(store))
	}

	port, err := tty.Open(cfg.TTY)
	if err != nil {
		return err
	}
	defer func() {
		_ = port.Close()
		log.Printf("[shutdown] serial port closed")
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	display := tty.New(port, store, displayJSON, telemetry.NewCSV(cfg.TelemetryPath),
		tty.Options{ReadyDelay: cfg.Loop.ReadyDelay})
	peers := hub.New()
	endpoint := udp.New(udp.Options{
		Listen:    cfg.UDP.Listen,
		TOS:       cfg.UDP.TOS,
		ReadPoll:  cfg.UDP.ReadPoll,
		PageDelay: cfg.UDP.PageDelay,
	}, key, store, peers, displayJSON)
	store.AddSink(endpoint)
	store.AddSink(display)

	// стартовая последовательность для дисплея
	display.SendStatus("Waiting for config")
	if doc, err := displayJSON(); err == nil {
		log.Printf("[init] sending display_config to display")
		display.SendConfig(doc)
	} else {
		log.Printf("[init] display_config not sent: %v", err)
	}
	display.SendStatus("Bridge running")

	background := []bootstrap.Named{
		{Name: "udp", Adapter: endpoint},
		{Name: "log-forwarder", Adapter: udp.NewLogForwarder(endpoint, evbuf, cfg.Loop.BroadcastInterval)},
		{Name: "tty-reader", Adapter: adapters.Func(func(ctx context.Context) error { return display.Read(ctx, port) })},
	}
	if cfg.Sync.Enabled {
		background = append(background, bootstrap.Named{Name: "sync", Adapter: control.NewSyncLoop(store, core, cfg.Sync.Interval)})
	}
	if cfg.Web.Enabled {
		background = append(background, bootstrap.Named{Name: "web", Adapter: web.New(cfg.Web, store, evbuf, peers)})
	}

	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		_ = bootstrap.RunAll(ctx, background...)
	}()

	loop := control.NewLoop(store, display, core, control.Options{
		PollInterval:      cfg.Loop.PollInterval,
		BroadcastInterval: cfg.Loop.BroadcastInterval,
		Idle:              cfg.Loop.Idle,
		Poll:              rpc.Options{Retries: 0, Timeout: cfg.RPC.PollTimeout},
	}, endpoint, display)

	log.Printf("[init] starting main loop")
	err = loop.Run(ctx)
	cancel()
	// чтение порта разблокируется только после закрытия
	_ = port.Close()
	<-bgDone
	return err
}

// seed заполняет хранилище значениями по умолчанию из раскладки дисплея.
func seed(store *registry.Store, layout *config.Layout, mode gate.Mode) {
	if layout != nil {
		for _, d := range layout.Defaults() {
			if err := store.Seed(d.Name, d.Value); err != nil {
				log.Printf("[init] default %s: %v", d.Name, err)
			}
		}
	}
	modeValue := 0.0
	if mode == gate.Remote {
		modeValue = 1
	}
	_ = store.Seed(registry.ModeSet, modeValue)
	log.Printf("[init] mode %s", mode)
}
