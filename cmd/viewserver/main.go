package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	core "alkanes/core"
)

// limiter throttles the read-only query surface: these views fan out to
// arbitrary external callers (spec §6), unlike the indexer's own internal
// calls, so they get a package-level request budget the way the teacher's
// own VM query endpoints do (core/virtual_machine.go's rate.NewLimiter).
var limiter = rate.NewLimiter(200, 100) // 200 req/s, burst 100

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Server exposes the engine's read-only query/view surface over HTTP (spec
// §6): callers never get a write path, only already-persisted state.
type Server struct {
	store  *core.AtomicPointer
	loader *core.ModuleLoader
	router *mux.Router
}

func NewServer(store *core.AtomicPointer, loader *core.ModuleLoader) *Server {
	s := &Server{store: store, loader: loader, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(rateLimitMiddleware)
	s.router.HandleFunc("/sequence", s.handleSequence).Methods("GET")
	s.router.HandleFunc("/getbytecode/{block:[0-9]+}/{tx:[0-9]+}", s.handleGetBytecode).Methods("GET")
	s.router.HandleFunc("/getstorageat/{block:[0-9]+}/{tx:[0-9]+}/{key}", s.handleGetStorageAt).Methods("GET")
	s.router.HandleFunc("/trace/{outpoint}", s.handleTrace).Methods("GET")
	s.router.HandleFunc("/traceblock/{height:[0-9]+}", s.handleTraceBlock).Methods("GET")
}

func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request) {
	raw := core.SequenceSnapshot(s.store)
	v, err := core.U128FromLE16(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"sequence": v.String()})
}

func parseIDVars(r *http.Request) (core.AlkaneId, error) {
	vars := mux.Vars(r)
	block, err := strconv.ParseUint(vars["block"], 10, 64)
	if err != nil {
		return core.AlkaneId{}, err
	}
	tx, err := strconv.ParseUint(vars["tx"], 10, 64)
	if err != nil {
		return core.AlkaneId{}, err
	}
	return core.NewAlkaneId(block, tx), nil
}

func (s *Server) handleGetBytecode(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDVars(r)
	if err != nil {
		http.Error(w, "bad identity", http.StatusBadRequest)
		return
	}
	if _, _, err := s.loader.Load(s.store, id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"id": id.String(), "status": "module compiled ok"})
}

func (s *Server) handleGetStorageAt(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDVars(r)
	if err != nil {
		http.Error(w, "bad identity", http.StatusBadRequest)
		return
	}
	key := mux.Vars(r)["key"]
	v, ok := s.store.Get(core.StorageSlotKey(id, []byte(key)))
	if !ok {
		http.Error(w, "no value at this storage slot", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"value_hex": hex.EncodeToString(v)})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	outpoint := mux.Vars(r)["outpoint"]
	v, ok := s.store.Get(core.TraceKey(outpoint))
	if !ok {
		http.Error(w, "no trace for this outpoint", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"trace_hex": hex.EncodeToString(v)})
}

func (s *Server) handleTraceBlock(w http.ResponseWriter, r *http.Request) {
	height, _ := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	v, ok := s.store.Get(core.ByHeightKey(height))
	if !ok {
		http.Error(w, "no outpoints recorded at this height", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"outpoints": string(v)})
}

func main() {
	dbPath := flag.String("db", "./alkanes-data", "path to the LevelDB store")
	addr := flag.String("addr", ":8787", "listen address")
	flag.Parse()

	backend, err := core.OpenDiskBackend(*dbPath, 16, 16)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	store := core.NewAtomicPointer(backend)
	loader := core.NewModuleLoader()
	srv := NewServer(store, loader)

	log.Printf("view server listening on %s", *addr)
	log.Fatal(srv.Start(*addr))
}
