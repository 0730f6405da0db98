package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/asaskevich/EventBus"

	"github.com/urbex-io/auctionhouse/config"
	"github.com/urbex-io/auctionhouse/core"
	"github.com/urbex-io/auctionhouse/marketapi"
	"github.com/urbex-io/auctionhouse/ownership"
	"github.com/urbex-io/auctionhouse/receipts"
	"github.com/urbex-io/auctionhouse/store"
)

// MarketServer hosts the auction engine behind a one-JSON-request-per-
// connection TCP protocol.
type MarketServer struct {
	cfg      *config.MarketdConfig
	engine   *core.Engine
	handlers *requestHandlers
}

func NewMarketServer(cfg *config.MarketdConfig) *MarketServer {
	return &MarketServer{cfg: cfg}
}

func (s *MarketServer) Start() error {
	db, err := store.OpenSQLite(s.cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("ERROR: Failed to close store: %v", err)
		}
	}()

	listings, balances, err := db.Load()
	if err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}
	log.Printf("INFO: Restored %d listings and %d ledger accounts from %s", len(listings), len(balances), s.cfg.Database.Path)

	var registry core.OwnershipRegistry
	var devRegistry *ownership.MemoryRegistry
	if s.cfg.Ownership.BaseURL != "" {
		registry = ownership.NewClient(s.cfg.Ownership.BaseURL, ownership.WithTimeout(s.cfg.Ownership.Timeout))
		log.Printf("INFO: Using ownership registry at %s", s.cfg.Ownership.BaseURL)
	} else {
		devRegistry = ownership.NewMemoryRegistry()
		registry = devRegistry
		log.Printf("INFO: No ownership.base_url configured, using in-process registry (development only)")
	}

	bus := EventBus.New()
	if err := subscribeLogSink(bus); err != nil {
		return fmt.Errorf("failed to subscribe log sink: %w", err)
	}

	if s.cfg.Receipts.Enabled {
		signer, err := loadSigner(s.cfg.Receipts.KeyPath)
		if err != nil {
			return fmt.Errorf("failed to initialize receipt signer: %w", err)
		}
		writer, err := newReceiptWriter(signer, s.cfg.Receipts.LogPath)
		if err != nil {
			return fmt.Errorf("failed to open receipt log: %w", err)
		}
		defer writer.Close()
		if err := writer.subscribe(bus); err != nil {
			return fmt.Errorf("failed to subscribe receipt writer: %w", err)
		}
		publicKeyPEM, err := signer.PublicKeyPEM()
		if err != nil {
			return fmt.Errorf("failed to export receipt verification key: %w", err)
		}
		log.Printf("INFO: Receipt signing enabled, verification key:\n%s", publicKeyPEM)
	}

	s.engine = core.NewEngine(
		s.cfg.Instance.Deployer,
		registry,
		core.WithStore(db),
		core.WithEventSink(busSink{bus: bus}),
		core.WithPayoutSink(logPayout{}),
	)
	s.engine.Restore(listings, balances)
	s.handlers = &requestHandlers{engine: s.engine, devRegistry: devRegistry}

	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	log.Printf("INFO: marketd listening on %s as deployer %s", s.cfg.Server.ListenAddr, s.cfg.Instance.Deployer)

	semaphore := make(chan struct{}, s.cfg.Server.MaxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", s.cfg.Server.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *MarketServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Server.ReadTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	var req marketapi.Request
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Printf("ERROR: Failed to decode request: %v", err)
		return
	}

	log.Printf("INFO: Received request type: %s", req.Type)
	response := s.handlers.handle(req)

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func loadSigner(keyPath string) (*receipts.Signer, error) {
	if keyPath == "" {
		log.Printf("INFO: No receipts.key_path configured, generating ephemeral signing key")
		return receipts.NewSigner()
	}
	return receipts.NewSignerFromPEMFile(keyPath)
}

func main() {
	configPath := flag.String("config", "marketd.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load config %s: %v", *configPath, err)
	}

	server := NewMarketServer(cfg)
	log.Fatal(server.Start())
}
