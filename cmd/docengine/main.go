// Command docengine hosts the document command coordinator behind a small
// HTTP surface: a command endpoint to submit CompileDocument/ExecuteDocument
// work and a websocket endpoint streaming the resulting patch batches,
// following the graceful-shutdown shape of the teacher's cmd/server/main.go
// (http.Server + signal.Notify + context-bounded Shutdown) minus the gin
// router and subsystems this engine does not carry forward.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smilemakc/docengine/internal/config"
	"github.com/smilemakc/docengine/internal/dispatch"
	"github.com/smilemakc/docengine/internal/document"
	"github.com/smilemakc/docengine/internal/domsync"
	"github.com/smilemakc/docengine/internal/graph"
	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/internal/kernel"
	"github.com/smilemakc/docengine/internal/kernel/calc"
	"github.com/smilemakc/docengine/internal/kernel/exprkernel"
	"github.com/smilemakc/docengine/internal/patchbus"
	"github.com/smilemakc/docengine/internal/runner"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting docengine", "port", cfg.Server.Port)

	minter := docmodel.NewIDMinter()
	root := sampleDocument(minter)

	registry := graph.NewRegistry()
	g := graph.New(registry, appLogger, minter)

	space := kernel.NewSpace(map[string]func() kernel.Kernel{
		"calc": func() kernel.Kernel { return calc.New() },
		"expr": func() kernel.Kernel { return exprkernel.New() },
	})

	disp := dispatch.New()
	bus := patchbus.New(root, cfg.Observer.BufferSize, appLogger)
	dom := domsync.New(renderContent(root))

	doc := document.New(root, g, space, disp, bus, appLogger,
		runner.Options{MaxConcurrency: cfg.Kernel.MaxConcurrency, StepTimeout: cfg.Kernel.StepTimeout})

	mux := http.NewServeMux()
	registerRoutes(mux, doc, bus, dom, appLogger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		appLogger.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		appLogger.Info("shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				appLogger.Error("server close failed", "error", err)
			}
		}

		appLogger.Info("server stopped")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func registerRoutes(mux *http.ServeMux, doc *document.Document, bus *patchbus.Bus, dom *domsync.Synchronizer, log *logger.Logger) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/dom", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dom.InitialPatch())
	})

	mux.HandleFunc("/commands", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Kind    string   `json:"kind"`
			NodeIDs []string `json:"nodeIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := doc.Submit(document.Command{Kind: document.CommandKind(req.Kind), NodeIDs: req.NodeIDs})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"commandId": id})
	})

	mux.HandleFunc("/patches", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub, unsubscribe := bus.Subscribe()
		defer unsubscribe()

		for batch := range sub.Batch() {
			if err := patchbus.WriteJSONTo(conn, batch); err != nil {
				log.Warn("websocket write failed", "error", err)
				return
			}
		}
	})
}

// sampleDocument builds a small article exercising a parameter, a calc
// chunk, an if block with an else clause, and a prompt block, so a fresh checkout has
// something to compile and execute without an external document source.
func sampleDocument(minter *docmodel.IDMinter) *docmodel.Node {
	param := &docmodel.Node{
		NodeID:              minter.Mint(docmodel.NodeParameter),
		Type:                docmodel.NodeParameter,
		ProgrammingLanguage: "calc",
		ParamName:           "threshold",
		ParamValue:          10,
	}
	chunk := &docmodel.Node{
		NodeID:              minter.Mint(docmodel.NodeCodeChunk),
		Type:                docmodel.NodeCodeChunk,
		ProgrammingLanguage: "calc",
		Code:                "doubled = threshold * 2",
		ExecutionMode:       docmodel.ModeAuto,
	}
	ifNode := &docmodel.Node{
		NodeID: minter.Mint(docmodel.NodeIf),
		Type:   docmodel.NodeIf,
		Clauses: []*docmodel.IfClause{
			{
				NodeID:              minter.Mint(docmodel.NodeIfClause),
				ProgrammingLanguage: "calc",
				Code:                "doubled > 15",
			},
			{
				NodeID:              minter.Mint(docmodel.NodeIfClause),
				ProgrammingLanguage: "",
				Code:                "",
			},
		},
	}
	promptBlock := &docmodel.Node{
		NodeID:          minter.Mint(docmodel.NodePromptBlock),
		Type:            docmodel.NodePromptBlock,
		InstructionType: "edit",
		Hint:            "tighten the prose",
	}

	return &docmodel.Node{
		NodeID:  minter.Mint(docmodel.NodeArticle),
		Type:    docmodel.NodeArticle,
		Content: []*docmodel.Node{param, chunk, ifNode, promptBlock},
	}
}

// renderContent produces the JSON encoding of the tree that DOM sync treats
// as the client-visible string, standing in for the HTML renderer the
// original implementation drives sync_dom.rs with.
func renderContent(root *docmodel.Node) string {
	b, err := json.Marshal(root)
	if err != nil {
		return ""
	}
	return string(b)
}
